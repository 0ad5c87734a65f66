package textproc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Redactor replaces personal data with stable placeholders before text
// leaves the process for embedding. Placeholders are keyed HMAC digests, so
// the same value always maps to the same tag within one deployment while
// the original stays unrecoverable without the key.
type Redactor struct {
	key []byte
}

// NewRedactor builds a Redactor keyed with the given secret.
func NewRedactor(key string) *Redactor {
	return &Redactor{key: []byte(key)}
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ibanPattern  = regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}(?:[ ]?[0-9A-Z]{4}){2,7}(?:[ ]?[0-9A-Z]{1,4})?\b`)
	phonePattern = regexp.MustCompile(`(?:\+|00)[0-9][0-9 \-/()]{7,18}[0-9]`)
	idPattern    = regexp.MustCompile(`\b(?:Kundennummer|Vertragsnummer|Personalausweisnummer|Steuer-ID|customer id|contract no\.?)[:\s]+[A-Za-z0-9\-/]{4,24}\b`)
	namePattern  = regexp.MustCompile(`\b(?:Herr|Frau|Mr\.|Mrs\.|Ms\.|Dr\.)\s+\p{Lu}[\p{L}\-]+(?:\s+\p{Lu}[\p{L}\-]+)?`)
)

// Redact returns text with emails, IBANs, phone numbers, reference numbers,
// and salutation-prefixed names replaced by [[PII:kind:xxxxxxxx]] tags.
// IBANs run before phones so digit groups are not half-claimed by the
// looser phone pattern.
func (r *Redactor) Redact(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	out := emailPattern.ReplaceAllStringFunc(text, r.tagger("email"))
	out = ibanPattern.ReplaceAllStringFunc(out, r.tagger("iban"))
	out = phonePattern.ReplaceAllStringFunc(out, r.tagger("phone"))
	out = idPattern.ReplaceAllStringFunc(out, r.tagger("id"))
	out = namePattern.ReplaceAllStringFunc(out, r.tagger("name"))
	return out
}

func (r *Redactor) tagger(kind string) func(string) string {
	return func(match string) string {
		return fmt.Sprintf("[[PII:%s:%s]]", kind, r.digest(match))
	}
}

// digest returns the first 8 hex chars of HMAC-SHA256 over the normalized
// match. Whitespace inside the value is ignored so "DE44 5001" and
// "DE445001" collapse onto one tag.
func (r *Redactor) digest(value string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(value), ""))
	mac := hmac.New(sha256.New, r.key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))[:8]
}

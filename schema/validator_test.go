package feedschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateFeedItemPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"source":"eurlex",
		"source_item_id":"32026R0117",
		"title":"Data Act implementing regulation",
		"summary":"Extends switching obligations for data processing services.",
		"url":"https://eur-lex.europa.eu/eli/reg/2026/117",
		"published_at":"2026-03-12T08:00:00Z",
		"area":"data-protection",
		"keywords":["data act","cloud"]
	}`)

	item, err := ValidateFeedItemPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if item.Source != "eurlex" {
		t.Fatalf("expected source=eurlex, got %q", item.Source)
	}
	if item.Text() == "" {
		t.Fatalf("expected summary to resolve as text")
	}
	if _, ok := item.Published(); !ok {
		t.Fatalf("expected published_at to parse")
	}
}

func TestValidateFeedItemPayload_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{
		"source":"bgbl",
		"title":"Missing source item id"
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing source_item_id")
	}
}

func TestValidateFeedItemPayload_WhitespaceTitle(t *testing.T) {
	payload := json.RawMessage(`{
		"source":"bgbl",
		"source_item_id":"1-2026-44",
		"title":"   "
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only title")
	}
	if !strings.Contains(err.Error(), "title must not be empty") {
		t.Fatalf("expected title semantic error, got: %v", err)
	}
}

func TestValidateFeedItemPayload_BadURL(t *testing.T) {
	payload := json.RawMessage(`{
		"source":"bgbl",
		"source_item_id":"1-2026-44",
		"title":"Mietrechtsnovelle",
		"url":"not a url"
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for malformed url")
	}
}

func TestValidateFeedItemPayload_BadPublishedAt(t *testing.T) {
	payload := json.RawMessage(`{
		"source":"bgbl",
		"source_item_id":"1-2026-44",
		"title":"Mietrechtsnovelle",
		"published_at":"12.03.2026"
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for non-RFC3339 published_at")
	}
}

func TestValidateFeedItemPayload_TrailingContent(t *testing.T) {
	payload := json.RawMessage(`{"source":"bgbl","source_item_id":"x","title":"T"}{"extra":true}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for trailing content")
	}
}

func TestFeedItemTextPreference(t *testing.T) {
	body := "Full body text."
	desc := "Short description."
	item := FeedItem{BodyText: &body, Description: &desc}
	if got := item.Text(); got != body {
		t.Fatalf("Text() = %q, want body text preferred", got)
	}

	item.BodyText = nil
	if got := item.Text(); got != desc {
		t.Fatalf("Text() = %q, want description fallback", got)
	}
}

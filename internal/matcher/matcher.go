// Package matcher scores law updates against indexed contract chunks and
// produces ranked (contract, law, score) candidates for alerting.
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/db"
	"github.com/noah04091/contract-ai-sub015/internal/feedback"
	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

// Index is the query surface the matcher needs.
type Index interface {
	Query(partition vectorindex.Partition, embedding []float64, k int, minScore float64) []vectorindex.Match
	ListByOwner(partition vectorindex.Partition, ownerID string) []vectorindex.Record
}

// Options tunes the similarity floor. AreaFloors raises (never lowers) the
// floor for legal areas where feedback shows weak helpfulness.
type Options struct {
	MinScore   float64
	TopK       int
	AreaFloors map[string]float64
}

// Match is one relevance candidate. Score is the contract's best chunk
// similarity against any of the law's chunks.
type Match struct {
	ContractID string  `json:"contract_id"`
	LawID      string  `json:"law_id"`
	Score      float64 `json:"score"`
	Area       string  `json:"area"`
}

type Service struct {
	index  Index
	opts   Options
	logger zerolog.Logger
}

func NewService(index Index, opts Options, logger zerolog.Logger) *Service {
	if opts.MinScore <= 0 {
		opts.MinScore = 0.65
	}
	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	return &Service{index: index, opts: opts, logger: logger}
}

// FloorFor returns the similarity floor for an area. Per-area overrides
// only ever tighten the global floor.
func (s *Service) FloorFor(area string) float64 {
	floor := s.opts.MinScore
	if override, ok := s.opts.AreaFloors[strings.ToLower(strings.TrimSpace(area))]; ok && override > floor {
		floor = override
	}
	return floor
}

// MatchLaw queries the contract partition with each of the law's chunk
// embeddings and keeps each contract's best-scoring chunk pair. Results
// come back ordered by score descending, contract id ascending on ties.
func (s *Service) MatchLaw(law db.LawUpdate) ([]Match, error) {
	lawVectors := s.index.ListByOwner(vectorindex.PartitionLaw, law.LawID)
	if len(lawVectors) == 0 {
		return nil, fmt.Errorf("law %s has no indexed vectors", law.LawID)
	}

	floor := s.FloorFor(law.Area)
	best := map[string]Match{}
	for _, lawVec := range lawVectors {
		for _, hit := range s.index.Query(vectorindex.PartitionContract, lawVec.Embedding, s.opts.TopK, floor) {
			contractID := hit.Record.OwnerID
			if current, ok := best[contractID]; ok && current.Score >= hit.Score {
				continue
			}
			best[contractID] = Match{
				ContractID: contractID,
				LawID:      law.LawID,
				Score:      hit.Score,
				Area:       law.Area,
			}
		}
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ContractID < matches[j].ContractID
	})

	s.logger.Debug().Str("law_id", law.LawID).Int("matches", len(matches)).Float64("floor", floor).Msg("law matched")
	return matches, nil
}

// Floor tuning from feedback. An area whose helpful rate falls below the
// threshold, on enough ratings to mean something, gets its floor raised by
// one step above the base.

const (
	floorTuneMinRatings  = 5
	floorTuneHelpfulRate = 0.5
	floorTuneStep        = 0.1
	floorTuneCeiling     = 0.95
)

// DeriveAreaFloors turns per-area helpfulness stats into floor overrides.
// Areas with healthy feedback, or too few ratings, get none.
func DeriveAreaFloors(byArea map[string]feedback.AreaStat, base float64) map[string]float64 {
	floors := map[string]float64{}
	for area, stat := range byArea {
		if stat.Count < floorTuneMinRatings || stat.HelpfulRate >= floorTuneHelpfulRate {
			continue
		}
		floor := base + floorTuneStep
		if floor > floorTuneCeiling {
			floor = floorTuneCeiling
		}
		floors[strings.ToLower(strings.TrimSpace(area))] = floor
	}
	if len(floors) == 0 {
		return nil
	}
	return floors
}

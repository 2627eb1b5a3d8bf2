package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
)

// DefaultCutoff is the minimum similarity for a fuzzy store match.
const DefaultCutoff = 0.8

// noiseWords are stripped from detected names before matching.
var noiseWords = []string{"S.A. DE C.V.", "FARMACIAS", "TIENDA", "SUPERMERCADO", "RESTAURANTE"}

// corrections rewrites common OCR/AI spellings to the reference spelling.
var corrections = map[string]string{
	"WAL-MART":     "WALMART",
	"WAL MART":     "WALMART",
	"OXXO GAS":     "OXXO",
	"HEB":          "H-E-B",
	"SORIANA H":    "SORIANA",
	"7 ELEVEN":     "7-ELEVEN",
	"SEVEN ELEVEN": "7-ELEVEN",
}

// StoreRepository is the reference data the matcher reads.
type StoreRepository interface {
	// StoreByName returns the store whose upper-cased name equals name, or domain.ErrNotFound.
	StoreByName(ctx context.Context, name string) (*domain.StoreBillingConfig, error)

	// StoresByInitial returns stores whose name starts with initial (case-insensitive).
	StoresByInitial(ctx context.Context, initial string) ([]domain.StoreBillingConfig, error)

	// AllStores returns every known store.
	AllStores(ctx context.Context) ([]domain.StoreBillingConfig, error)
}

// Matcher reconciles AI-detected vendor names with the known store list.
type Matcher struct {
	repo   StoreRepository
	Cutoff float64
}

// NewMatcher creates a matcher with the default cutoff.
func NewMatcher(repo StoreRepository) *Matcher {
	return &Matcher{repo: repo, Cutoff: DefaultCutoff}
}

// Match returns the known store that best matches detected, or nil when nothing
// is close enough. An exact upper-case match returns before any similarity search.
func (m *Matcher) Match(ctx context.Context, detected string) (*domain.StoreBillingConfig, error) {
	name := strings.ToUpper(strings.TrimSpace(detected))
	if name == "" {
		return nil, nil
	}

	if cfg, err := m.exact(ctx, name); cfg != nil || err != nil {
		return cfg, err
	}

	cleaned := Clean(name)
	if cleaned == "" {
		return nil, nil
	}
	if cleaned != name {
		if cfg, err := m.exact(ctx, cleaned); cfg != nil || err != nil {
			return cfg, err
		}
	}

	r, _ := utf8.DecodeRuneInString(cleaned)
	candidates, err := m.repo.StoresByInitial(ctx, string(r))
	if err != nil {
		return nil, fmt.Errorf("Match: loading candidates: %w", err)
	}

	var (
		best      *domain.StoreBillingConfig
		bestScore float64
	)
	for i := range candidates {
		score := Similarity(cleaned, strings.ToUpper(candidates[i].Store))
		if score >= m.Cutoff && score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}

	if best != nil {
		log := logger.FromContext(ctx)
		log.Debug().
			Str("detected", detected).
			Str("matched", best.Store).
			Float64("score", bestScore).
			Msg("Fuzzy store match")
	}

	return best, nil
}

func (m *Matcher) exact(ctx context.Context, name string) (*domain.StoreBillingConfig, error) {
	cfg, err := m.repo.StoreByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Match: exact lookup: %w", err)
	}
	return cfg, nil
}

// Clean upper-cases name, strips noise words and applies the correction dictionary.
func Clean(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	for _, w := range noiseWords {
		s = strings.ReplaceAll(s, w, "")
	}
	s = strings.Join(strings.Fields(s), " ")
	if fixed, ok := corrections[s]; ok {
		return fixed
	}
	return s
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)), counted in runes.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

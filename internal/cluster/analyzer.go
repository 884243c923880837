package cluster

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/calloway/sortinghat/internal/model"
)

// FrequentPattern is a word n-gram appearing in a significant fraction of
// transaction descriptions. High-frequency phrases usually indicate
// bank-generated boilerplate (round-ups, automatic transfers) rather than
// merchants.
type FrequentPattern struct {
	Phrase               string
	SampleDescriptions   []string
	SampleTransactionIDs []int64
	Frequency            float64
	TransactionCount     int
}

var analyzerCleanup = []*regexp.Regexp{
	regexp.MustCompile(`\d+`),
	regexp.MustCompile(`[*#@.,]`),
}

// AnalyzerConfig holds the n-gram mining parameters.
type AnalyzerConfig struct {
	// Threshold is the minimum fraction of transactions an n-gram must
	// appear in, in (0, 1].
	Threshold       float64
	MinPhraseWords  int
	MaxPhraseWords  int
	MinPhraseLength int
	MaxSamples      int
}

// DefaultAnalyzerConfig returns the default mining parameters.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Threshold:       0.10,
		MinPhraseWords:  2,
		MaxPhraseWords:  6,
		MinPhraseLength: 10,
		MaxSamples:      5,
	}
}

// Analyzer mines high-frequency word n-grams from transaction descriptions.
type Analyzer struct {
	threshold       float64
	minPhraseWords  int
	maxPhraseWords  int
	minPhraseLength int
	maxSamples      int
}

// NewAnalyzer creates an analyzer, validating the configuration.
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", cfg.Threshold)
	}
	if cfg.MinPhraseWords < 1 {
		return nil, fmt.Errorf("min phrase words must be at least 1, got %d", cfg.MinPhraseWords)
	}
	if cfg.MaxPhraseWords < cfg.MinPhraseWords {
		return nil, fmt.Errorf("max phrase words %d below min %d", cfg.MaxPhraseWords, cfg.MinPhraseWords)
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 5
	}
	return &Analyzer{
		threshold:       cfg.Threshold,
		minPhraseWords:  cfg.MinPhraseWords,
		maxPhraseWords:  cfg.MaxPhraseWords,
		minPhraseLength: cfg.MinPhraseLength,
		maxSamples:      cfg.MaxSamples,
	}, nil
}

// normalize uppercases and strips digits and punctuation before n-gram
// extraction. Unlike cluster normalization, suffix tokens are kept: they are
// exactly the boilerplate this analyzer is meant to surface.
func (a *Analyzer) normalize(description string) string {
	if description == "" {
		return ""
	}
	normalized := strings.ToUpper(description)
	for _, pattern := range analyzerCleanup {
		normalized = pattern.ReplaceAllString(normalized, " ")
	}
	return strings.Join(strings.Fields(normalized), " ")
}

// ngrams extracts every qualifying word n-gram from normalized text.
func (a *Analyzer) ngrams(text string) []string {
	words := strings.Fields(text)
	if len(words) < a.minPhraseWords {
		return nil
	}

	var phrases []string
	for n := a.minPhraseWords; n <= a.maxPhraseWords; n++ {
		for i := 0; i+n <= len(words); i++ {
			phrase := strings.Join(words[i:i+n], " ")
			if len(phrase) >= a.minPhraseLength {
				phrases = append(phrases, phrase)
			}
		}
	}
	return phrases
}

type occurrence struct {
	description   string
	transactionID int64
}

// Analyze mines patterns from the corpus: each n-gram is counted at most once
// per source transaction, kept when it meets the threshold, suppressed when
// it is a strict substring of a longer retained phrase, and returned sorted
// by descending frequency.
func (a *Analyzer) Analyze(transactions []model.Transaction) []FrequentPattern {
	if len(transactions) == 0 {
		return nil
	}

	total := len(transactions)
	minCount := int(float64(total) * a.threshold)

	occurrences := make(map[string][]occurrence)
	for _, txn := range transactions {
		if txn.Description == "" {
			continue
		}
		seen := make(map[string]struct{})
		for _, phrase := range a.ngrams(a.normalize(txn.Description)) {
			if _, dup := seen[phrase]; dup {
				continue
			}
			seen[phrase] = struct{}{}
			occurrences[phrase] = append(occurrences[phrase], occurrence{
				description:   txn.Description,
				transactionID: txn.ID,
			})
		}
	}

	type candidate struct {
		phrase string
		count  int
	}
	var candidates []candidate
	for phrase, occs := range occurrences {
		if len(occs) >= minCount {
			candidates = append(candidates, candidate{phrase: phrase, count: len(occs)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].phrase < candidates[j].phrase
	})

	// Longest-match suppression: drop any phrase that is a strict substring
	// of an already-kept longer phrase.
	byLength := make([]candidate, len(candidates))
	copy(byLength, candidates)
	sort.SliceStable(byLength, func(i, j int) bool {
		return len(byLength[i].phrase) > len(byLength[j].phrase)
	})

	kept := make(map[string]struct{})
	for _, c := range byLength {
		substring := false
		for phrase := range kept {
			if strings.Contains(phrase, c.phrase) {
				substring = true
				break
			}
		}
		if !substring {
			kept[c.phrase] = struct{}{}
		}
	}

	var results []FrequentPattern
	for _, c := range candidates {
		if _, ok := kept[c.phrase]; !ok {
			continue
		}

		occs := occurrences[c.phrase]
		seenDesc := make(map[string]struct{})
		var samples []string
		var ids []int64
		for _, occ := range occs {
			if _, dup := seenDesc[occ.description]; dup {
				continue
			}
			seenDesc[occ.description] = struct{}{}
			samples = append(samples, occ.description)
			ids = append(ids, occ.transactionID)
			if len(samples) >= a.maxSamples {
				break
			}
		}

		results = append(results, FrequentPattern{
			Phrase:               c.phrase,
			Frequency:            float64(c.count) / float64(total),
			TransactionCount:     c.count,
			SampleDescriptions:   samples,
			SampleTransactionIDs: ids,
		})
	}
	return results
}

// MatchingTransactionIDs returns the ids of every transaction whose
// normalized description contains the phrase.
func (a *Analyzer) MatchingTransactionIDs(pattern FrequentPattern, transactions []model.Transaction) []int64 {
	phrase := strings.ToUpper(pattern.Phrase)
	var ids []int64
	for _, txn := range transactions {
		if txn.Description == "" {
			continue
		}
		if strings.Contains(a.normalize(txn.Description), phrase) {
			ids = append(ids, txn.ID)
		}
	}
	return ids
}

// PatternHash returns the short stable identifier for a mined phrase.
func (p *FrequentPattern) PatternHash() string {
	return KeyHash(p.Phrase)[:16]
}

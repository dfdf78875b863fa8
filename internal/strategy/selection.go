package strategy

import (
	"fmt"
	"strings"
)

// Policy names a bubble selection rule.
type Policy string

const (
	// StrictMargin picks the darkest option only when it is darker than the
	// runner-up by at least the configured margin.
	StrictMargin Policy = "strict_margin"
	// NaiveDarkest always picks the darkest option.
	NaiveDarkest Policy = "naive_darkest"
)

// DefaultMinFillDelta is the mean-intensity separation required by StrictMargin.
const DefaultMinFillDelta = 12.0

// ParsePolicy resolves a policy name, case-insensitive. Empty means StrictMargin.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(name))) {
	case "", StrictMargin:
		return StrictMargin, nil
	case NaiveDarkest:
		return NaiveDarkest, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q (want %s or %s)", name, StrictMargin, NaiveDarkest)
	}
}

// OptionMean is the sampled mean intensity of one option rectangle.
// Index is the option position within the question, so A=0.
type OptionMean struct {
	Index int     `json:"index"`
	Mean  float64 `json:"mean"`
}

// SelectionStrategy decides which option, if any, was marked.
type SelectionStrategy interface {
	// Select returns the chosen OptionMean.Index and true, or false for no answer.
	Select(means []OptionMean) (int, bool)
	GetStrategyName() string
}

// StrictMarginStrategy requires a clear gap between the two darkest options
type StrictMarginStrategy struct {
	minFillDelta float64
}

// NewStrictMarginStrategy creates a margin-based strategy. A negative delta
// falls back to DefaultMinFillDelta.
func NewStrictMarginStrategy(minFillDelta float64) SelectionStrategy {
	if minFillDelta < 0 {
		minFillDelta = DefaultMinFillDelta
	}
	return &StrictMarginStrategy{minFillDelta: minFillDelta}
}

// Select returns the darkest option when it beats the runner-up by the margin.
// Equal means count as the runner-up, so a tie is never a selection.
func (s *StrictMarginStrategy) Select(means []OptionMean) (int, bool) {
	if len(means) == 0 {
		return 0, false
	}

	best := means[0]
	hasSecond := false
	var second float64

	for _, m := range means[1:] {
		switch {
		case m.Mean < best.Mean:
			second, hasSecond = best.Mean, true
			best = m
		case !hasSecond || m.Mean < second:
			second, hasSecond = m.Mean, true
		}
	}

	if !hasSecond {
		return best.Index, true
	}
	if second-best.Mean < s.minFillDelta {
		return 0, false
	}
	return best.Index, true
}

// MinFillDelta returns the configured margin
func (s *StrictMarginStrategy) MinFillDelta() float64 {
	return s.minFillDelta
}

// GetStrategyName returns the strategy name
func (s *StrictMarginStrategy) GetStrategyName() string {
	return string(StrictMargin)
}

// NaiveDarkestStrategy picks the lowest mean with no margin check
type NaiveDarkestStrategy struct{}

// NewNaiveDarkestStrategy creates a naive strategy
func NewNaiveDarkestStrategy() SelectionStrategy {
	return &NaiveDarkestStrategy{}
}

// Select returns the first option with the lowest mean
func (s *NaiveDarkestStrategy) Select(means []OptionMean) (int, bool) {
	if len(means) == 0 {
		return 0, false
	}
	best := means[0]
	for _, m := range means[1:] {
		if m.Mean < best.Mean {
			best = m
		}
	}
	return best.Index, true
}

// GetStrategyName returns the strategy name
func (s *NaiveDarkestStrategy) GetStrategyName() string {
	return string(NaiveDarkest)
}

// New builds the strategy for a policy.
func New(policy Policy, minFillDelta float64) (SelectionStrategy, error) {
	switch policy {
	case "", StrictMargin:
		return NewStrictMarginStrategy(minFillDelta), nil
	case NaiveDarkest:
		return NewNaiveDarkestStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", policy)
	}
}

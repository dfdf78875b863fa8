package marker

import (
	"fmt"

	"go-omr-marker/internal/strategy"
)

// MarkerOptions configures bubble detection on one sheet
type MarkerOptions struct {
	// Selection policy
	Policy       strategy.Policy
	MinFillDelta float64

	// Gaussian kernel applied before sampling (odd, 0 disables)
	BlurSize int

	// Stop at the first invalid region instead of recording it and moving on
	FailOnInvalidRegion bool
}

// DefaultOptions returns the strict margin defaults
func DefaultOptions() MarkerOptions {
	return MarkerOptions{
		Policy:              strategy.StrictMargin,
		MinFillDelta:        strategy.DefaultMinFillDelta,
		BlurSize:            5,
		FailOnInvalidRegion: false,
	}
}

// NaiveOptions returns options that always pick the darkest bubble
func NaiveOptions() MarkerOptions {
	opts := DefaultOptions()
	opts.Policy = strategy.NaiveDarkest
	opts.BlurSize = 0
	return opts
}

// WithPolicy sets the selection policy
func (opts MarkerOptions) WithPolicy(policy strategy.Policy) MarkerOptions {
	opts.Policy = policy
	return opts
}

// WithMinFillDelta sets the strict margin threshold
func (opts MarkerOptions) WithMinFillDelta(delta float64) MarkerOptions {
	opts.MinFillDelta = delta
	return opts
}

// WithBlur sets the pre-sampling blur kernel
func (opts MarkerOptions) WithBlur(size int) MarkerOptions {
	opts.BlurSize = size
	return opts
}

// WithoutBlur samples the raw grayscale page
func (opts MarkerOptions) WithoutBlur() MarkerOptions {
	opts.BlurSize = 0
	return opts
}

// WithFailFast aborts detection on the first invalid region
func (opts MarkerOptions) WithFailFast() MarkerOptions {
	opts.FailOnInvalidRegion = true
	return opts
}

// Validate checks the options are usable
func (opts MarkerOptions) Validate() error {
	if _, err := strategy.ParsePolicy(string(opts.Policy)); err != nil {
		return err
	}
	if opts.MinFillDelta < 0 {
		return fmt.Errorf("min fill delta must be >= 0 (got %g)", opts.MinFillDelta)
	}
	if opts.BlurSize < 0 || (opts.BlurSize > 0 && opts.BlurSize%2 == 0) {
		return fmt.Errorf("blur size must be 0 or a positive odd number (got %d)", opts.BlurSize)
	}
	return nil
}

package alignment

import "fmt"

// Options configures ECC alignment
type Options struct {
	// Termination criteria
	MaxIterations int
	Epsilon       float64

	// Gaussian pre-smoothing kernel size applied to both images (odd, 0 disables)
	GaussianFilterSize int

	// Longest side used while estimating; 0 estimates at full resolution
	MaxWorkingDimension int

	// Minimum share of template pixels that must map inside the candidate
	MinOverlap float64
}

// DefaultOptions returns the default alignment options
func DefaultOptions() Options {
	return Options{
		MaxIterations:       80,
		Epsilon:             1e-6,
		GaussianFilterSize:  5,
		MaxWorkingDimension: 0,
		MinOverlap:          0.1,
	}
}

// WithMaxIterations overrides the iteration cap
func (o Options) WithMaxIterations(n int) Options {
	o.MaxIterations = n
	return o
}

// WithEpsilon overrides the convergence threshold
func (o Options) WithEpsilon(eps float64) Options {
	o.Epsilon = eps
	return o
}

// WithWorkingDimension estimates on images downscaled to maxDim
func (o Options) WithWorkingDimension(maxDim int) Options {
	o.MaxWorkingDimension = maxDim
	return o
}

// Validate checks the options are usable
func (o Options) Validate() error {
	if o.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be > 0 (got %d)", o.MaxIterations)
	}
	if o.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be > 0 (got %g)", o.Epsilon)
	}
	if o.GaussianFilterSize < 0 {
		return fmt.Errorf("gaussian filter size must be >= 0 (got %d)", o.GaussianFilterSize)
	}
	if o.MaxWorkingDimension < 0 {
		return fmt.Errorf("max working dimension must be >= 0 (got %d)", o.MaxWorkingDimension)
	}
	if o.MinOverlap <= 0 || o.MinOverlap > 1 {
		return fmt.Errorf("min overlap must be in (0, 1] (got %g)", o.MinOverlap)
	}
	return nil
}

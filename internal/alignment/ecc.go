package alignment

import (
	"errors"
	"fmt"
	"image"
	"math"

	"go-omr-marker/internal/imaging"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// ErrAlignmentFailed is returned when no transform could be estimated.
// Callers are expected to continue with the unaligned image.
var ErrAlignmentFailed = errors.New("alignment failed")

const (
	// minTextureStdDev rejects pages too flat for the correlation to be defined.
	minTextureStdDev = 1.0
	// minInitialCorrelation rejects pairs OpenCV would abort on as uncorrelated.
	minInitialCorrelation = 0.05
	// overlapGrid is the number of template samples per side in the overlap check.
	overlapGrid = 16
)

// Estimate is the outcome of the ECC optimisation.
type Estimate struct {
	Transform   AffineTransform
	Correlation float64
}

// Result holds an aligned page in template coordinates.
type Result struct {
	Estimate
	Aligned     *image.RGBA
	AlignedGray *image.Gray
}

// Aligner registers candidate scans onto a template by maximising the
// enhanced correlation coefficient under an affine motion model.
type Aligner struct {
	opts Options
}

// NewAligner creates an aligner. Zero-valued options fall back to defaults.
func NewAligner(opts Options) *Aligner {
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = def.Epsilon
	}
	if opts.GaussianFilterSize < 0 {
		opts.GaussianFilterSize = def.GaussianFilterSize
	}
	if opts.MinOverlap <= 0 || opts.MinOverlap > 1 {
		opts.MinOverlap = def.MinOverlap
	}
	if opts.MaxWorkingDimension < 0 {
		opts.MaxWorkingDimension = 0
	}
	return &Aligner{opts: opts}
}

// Options returns the effective options.
func (a *Aligner) Options() Options {
	return a.opts
}

// Align estimates the transform between template and candidate and warps
// the full-resolution candidate into the template frame.
func (a *Aligner) Align(template, candidate image.Image) (*Result, error) {
	if template.Bounds().Empty() || candidate.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrAlignmentFailed)
	}
	tmpl, err := imaging.GrayMat(template)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlignmentFailed, err)
	}
	defer tmpl.Close()
	cand, err := imaging.GrayMat(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlignmentFailed, err)
	}
	defer cand.Close()

	est, err := a.EstimateMat(tmpl, cand)
	if err != nil {
		return nil, err
	}

	aligned, err := Warp(candidate, est.Transform, template.Bounds().Size())
	if err != nil {
		return nil, err
	}
	return &Result{
		Estimate:    est,
		Aligned:     aligned,
		AlignedGray: imaging.ToGray(aligned),
	}, nil
}

// EstimateGray runs the optimisation on two grayscale pages.
func (a *Aligner) EstimateGray(template, candidate *image.Gray) (Estimate, error) {
	if template.Bounds().Empty() || candidate.Bounds().Empty() {
		return Estimate{}, fmt.Errorf("%w: empty image", ErrAlignmentFailed)
	}
	tmpl, err := imaging.GrayMat(template)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", ErrAlignmentFailed, err)
	}
	defer tmpl.Close()
	cand, err := imaging.GrayMat(candidate)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", ErrAlignmentFailed, err)
	}
	defer cand.Close()
	return a.EstimateMat(tmpl, cand)
}

// EstimateMat runs ECC on two single channel 8-bit Mats, downscaling both
// first when MaxWorkingDimension is set. The returned transform maps
// template pixel coordinates to candidate pixel coordinates.
func (a *Aligner) EstimateMat(template, candidate gocv.Mat) (Estimate, error) {
	if template.Empty() || candidate.Empty() {
		return Estimate{}, fmt.Errorf("%w: empty image", ErrAlignmentFailed)
	}

	factor := imaging.FitScale(template.Cols(), template.Rows(), a.opts.MaxWorkingDimension)
	ts := imaging.Scale(template, factor)
	defer ts.Close()
	cs := imaging.Scale(candidate, factor)
	defer cs.Close()

	est, err := a.estimate(ts, cs)
	if err != nil || factor == 1 {
		return est, err
	}
	est.Transform = est.Transform.rescale(
		float64(ts.Cols())/float64(template.Cols()),
		float64(ts.Rows())/float64(template.Rows()),
		float64(cs.Cols())/float64(candidate.Cols()),
		float64(cs.Rows())/float64(candidate.Rows()),
	)
	return est, nil
}

// estimate guards the inputs OpenCV cannot converge on, then runs
// findTransformECC from the identity.
func (a *Aligner) estimate(template, candidate gocv.Mat) (Estimate, error) {
	if sd := stdDev(template); sd < minTextureStdDev {
		return Estimate{}, fmt.Errorf("%w: template has no texture (stddev %.2f)", ErrAlignmentFailed, sd)
	}
	if sd := stdDev(candidate); sd < minTextureStdDev {
		return Estimate{}, fmt.Errorf("%w: candidate has no texture (stddev %.2f)", ErrAlignmentFailed, sd)
	}
	if rho := initialCorrelation(template, candidate); math.IsNaN(rho) || rho < minInitialCorrelation {
		return Estimate{}, fmt.Errorf("%w: images are uncorrelated (initial correlation %.3f)", ErrAlignmentFailed, rho)
	}

	warp := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV32F)
	defer warp.Close()
	for i, v := range Identity().Values() {
		warp.SetFloatAt(i/3, i%3, float32(v))
	}

	criteria := gocv.NewTermCriteria(gocv.EPS+gocv.MaxIter, a.opts.MaxIterations, a.opts.Epsilon)
	mask := gocv.NewMat()
	defer mask.Close()
	rho := gocv.FindTransformECC(template, candidate, &warp, gocv.MotionAffine, criteria, mask, filterSize(a.opts.GaussianFilterSize))
	if math.IsNaN(rho) || math.IsInf(rho, 0) || rho <= 0 {
		return Estimate{}, fmt.Errorf("%w: correlation %.3f is undefined", ErrAlignmentFailed, rho)
	}

	t := AffineTransform{
		A: float64(warp.GetFloatAt(0, 0)), B: float64(warp.GetFloatAt(0, 1)), TX: float64(warp.GetFloatAt(0, 2)),
		C: float64(warp.GetFloatAt(1, 0)), D: float64(warp.GetFloatAt(1, 1)), TY: float64(warp.GetFloatAt(1, 2)),
	}
	if !t.IsFinite() {
		return Estimate{}, fmt.Errorf("%w: transform diverged", ErrAlignmentFailed)
	}
	if share := overlap(t, template.Cols(), template.Rows(), candidate.Cols(), candidate.Rows()); share < a.opts.MinOverlap {
		return Estimate{}, fmt.Errorf("%w: only %.0f%% of the template overlaps the candidate", ErrAlignmentFailed, share*100)
	}
	return Estimate{Transform: t, Correlation: rho}, nil
}

// filterSize maps the configured kernel to the odd size OpenCV expects;
// 1 leaves the images unsmoothed.
func filterSize(size int) int {
	if size < 1 {
		return 1
	}
	if size%2 == 0 {
		return size + 1
	}
	return size
}

func stdDev(m gocv.Mat) float64 {
	pix := m.ToBytes()
	values := make([]float64, len(pix))
	for i, v := range pix {
		values[i] = float64(v)
	}
	return stat.PopStdDev(values, nil)
}

// initialCorrelation is the zero-mean normalised correlation of the pair at
// the identity, over the area both pages share.
func initialCorrelation(template, candidate gocv.Mat) float64 {
	shared := image.Rect(0, 0, min(template.Cols(), candidate.Cols()), min(template.Rows(), candidate.Rows()))
	tmpl := template.Region(shared)
	defer tmpl.Close()
	cand := candidate.Region(shared)
	defer cand.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(cand, tmpl, &result, gocv.TmCcoeffNormed, mask)
	return float64(result.GetFloatAt(0, 0))
}

// overlap is the share of a grid of template points that t maps inside the
// candidate.
func overlap(t AffineTransform, tw, th, cw, ch int) float64 {
	inside := 0
	for i := 0; i < overlapGrid; i++ {
		for j := 0; j < overlapGrid; j++ {
			x := (float64(i) + 0.5) * float64(tw) / overlapGrid
			y := (float64(j) + 0.5) * float64(th) / overlapGrid
			sx, sy := t.Apply(x, y)
			if sx >= 0 && sy >= 0 && sx <= float64(cw-1) && sy <= float64(ch-1) {
				inside++
			}
		}
	}
	return float64(inside) / (overlapGrid * overlapGrid)
}

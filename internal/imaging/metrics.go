package imaging

import (
	"image"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// ScanMetrics are the quality measurements of one scanned page.
type ScanMetrics struct {
	Width        int
	Height       int
	Brightness   float64
	Contrast     float64
	LaplacianVar float64
	SkewAngle    *float64
}

// MetricsCalculator measures scan quality on grayscale pages
type MetricsCalculator interface {
	Measure(gray *image.Gray) ScanMetrics
	CalculateLaplacianVariance(gray *image.Gray) float64
	CalculateBrightness(gray *image.Gray) float64
	CalculateContrast(gray *image.Gray) float64
	DetectSkew(gray *image.Gray) *float64
}

// metricsCalculator implements MetricsCalculator with Gonum statistics.
// Large pages are sampled on a grid of at most sampleTarget pixels per side.
type metricsCalculator struct {
	slicePool    sync.Pool
	sampleTarget int
}

// NewMetricsCalculator creates a new metrics calculator using Gonum
func NewMetricsCalculator() MetricsCalculator {
	return &metricsCalculator{
		sampleTarget: 800,
		slicePool: sync.Pool{
			New: func() interface{} {
				return make([]float64, 0, 1024)
			},
		},
	}
}

// Measure runs every metric on the page.
func (mc *metricsCalculator) Measure(gray *image.Gray) ScanMetrics {
	bounds := gray.Bounds()
	return ScanMetrics{
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Brightness:   mc.CalculateBrightness(gray),
		Contrast:     mc.CalculateContrast(gray),
		LaplacianVar: mc.CalculateLaplacianVariance(gray),
		SkewAngle:    mc.DetectSkew(gray),
	}
}

// step picks a sampling stride so that neither axis exceeds sampleTarget.
func (mc *metricsCalculator) step(width, height int) int {
	longest := width
	if height > longest {
		longest = height
	}
	s := longest / mc.sampleTarget
	if s < 1 {
		return 1
	}
	return s
}

// CalculateLaplacianVariance computes Laplacian variance using Gonum operations
func (mc *metricsCalculator) CalculateLaplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return 0
	}
	s := mc.step(width, height)

	data := mc.slicePool.Get().([]float64)
	defer func() { mc.slicePool.Put(data[:0]) }()

	at := func(x, y int) float64 {
		return float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
	}

	// Laplacian kernel: [0, 1, 0; 1, -4, 1; 0, 1, 0]
	for y := 1; y < height-1; y += s {
		for x := 1; x < width-1; x += s {
			laplacian := -4*at(x, y) + at(x, y-1) + at(x, y+1) + at(x-1, y) + at(x+1, y)
			data = append(data, laplacian)
		}
	}

	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// CalculateBrightness computes average brightness with parallel processing
func (mc *metricsCalculator) CalculateBrightness(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0
	}

	numWorkers := runtime.NumCPU()
	if height < numWorkers {
		numWorkers = height
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	results := make(chan float64, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		startY := bounds.Min.Y + i*rowsPerWorker
		endY := startY + rowsPerWorker
		if endY > bounds.Max.Y {
			endY = bounds.Max.Y
		}
		if startY >= endY {
			continue
		}
		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()
			var total float64
			for y := startY; y < endY; y++ {
				row := gray.Pix[gray.PixOffset(bounds.Min.X, y):gray.PixOffset(bounds.Min.X, y)+width]
				for _, v := range row {
					total += float64(v)
				}
			}
			results <- total
		}(startY, endY)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var total float64
	for v := range results {
		total += v
	}
	return total / float64(width*height)
}

// CalculateContrast returns the standard deviation of sampled intensities.
func (mc *metricsCalculator) CalculateContrast(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0
	}
	s := mc.step(width, height)

	data := mc.slicePool.Get().([]float64)
	defer func() { mc.slicePool.Put(data[:0]) }()

	for y := 0; y < height; y += s {
		for x := 0; x < width; x += s {
			data = append(data, float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y))
		}
	}
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// DetectSkew fits a line through strong horizontal edges and returns its
// angle in degrees, or nil when too few edges are found.
func (mc *metricsCalculator) DetectSkew(gray *image.Gray) *float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return nil
	}
	s := mc.step(width, height)

	at := func(x, y int) int {
		return int(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
	}

	// Only rows of a single dominant horizontal edge per column contribute,
	// which keeps text noise from dominating the fit.
	var xCoords, yCoords []float64
	for x := 1; x < width-1; x += s {
		bestY, bestMag := -1, 0
		for y := 1; y < height-1; y += s {
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			if gy < 0 {
				gy = -gy
			}
			if gy > bestMag {
				bestY, bestMag = y, gy
			}
		}
		if bestY >= 0 && bestMag > 200 {
			xCoords = append(xCoords, float64(x))
			yCoords = append(yCoords, float64(bestY))
		}
	}

	if len(xCoords) < 10 {
		return nil
	}

	angle := calculateSkewAngle(xCoords, yCoords)
	return &angle
}

// calculateSkewAngle uses Gonum for linear regression
func calculateSkewAngle(xCoords, yCoords []float64) float64 {
	if len(xCoords) < 2 || len(yCoords) < 2 {
		return 0
	}

	_, slope := stat.LinearRegression(xCoords, yCoords, nil, false)
	angle := math.Atan(slope) * 180 / math.Pi

	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return 0
	}

	// Normalize angle to [-45, 45] range
	for angle > 45 {
		angle -= 90
	}
	for angle < -45 {
		angle += 90
	}
	return angle
}

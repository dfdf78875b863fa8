package validation

import (
	"fmt"
	"math"
)

// QualityThresholds defines configurable thresholds for scan validation
type QualityThresholds struct {
	// Sharpness thresholds
	MinLaplacianVariance float64

	// Brightness thresholds (mean gray level of the page)
	MinBrightness float64
	MaxBrightness float64

	// Contrast threshold (standard deviation of gray levels)
	MinContrast float64

	// Skew threshold (in degrees)
	MaxSkewAngle float64

	// Resolution thresholds
	MinWidth  int
	MinHeight int
}

// DefaultQualityThresholds returns thresholds tuned for scanned answer sheets
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinLaplacianVariance: 15.0,
		MinBrightness:        110.0, // paper should read as light
		MaxBrightness:        252.0, // near-white pages are usually empty scans
		MinContrast:          8.0,
		MaxSkewAngle:         3.0,
		MinWidth:             600,
		MinHeight:            800,
	}
}

// QualityValidator handles scan quality validation logic
type QualityValidator struct {
	thresholds QualityThresholds
}

// NewQualityValidator creates a new quality validator with default thresholds
func NewQualityValidator() *QualityValidator {
	return &QualityValidator{
		thresholds: DefaultQualityThresholds(),
	}
}

// NewQualityValidatorWithThresholds creates a quality validator with custom thresholds
func NewQualityValidatorWithThresholds(thresholds QualityThresholds) *QualityValidator {
	return &QualityValidator{
		thresholds: thresholds,
	}
}

// QualityIssue represents a quality validation issue
type QualityIssue struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"` // "error", "warning"
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// ScanQualityMetrics represents the metrics needed for scan validation
type ScanQualityMetrics struct {
	Width        int
	Height       int
	LaplacianVar float64
	Brightness   float64
	Contrast     float64

	// Optional metrics
	SkewAngle *float64
}

// ValidateScan checks a scanned page. Issues never stop marking; they are
// reported alongside the result so a reviewer can rescan.
func (qv *QualityValidator) ValidateScan(metrics ScanQualityMetrics) []QualityIssue {
	var issues []QualityIssue

	// 1. Resolution
	if metrics.Width < qv.thresholds.MinWidth || metrics.Height < qv.thresholds.MinHeight {
		issues = append(issues, QualityIssue{
			Type:        "low_resolution",
			Message:     fmt.Sprintf("Scan is %dx%d, below the %dx%d minimum. Rescan at a higher resolution.", metrics.Width, metrics.Height, qv.thresholds.MinWidth, qv.thresholds.MinHeight),
			Severity:    "warning",
			ActualValue: float64(metrics.Width * metrics.Height),
			Threshold:   float64(qv.thresholds.MinWidth * qv.thresholds.MinHeight),
		})
	}

	// 2. Blank or washed-out page
	if metrics.Contrast < qv.thresholds.MinContrast {
		issues = append(issues, QualityIssue{
			Type:        "low_contrast",
			Message:     "Page has almost no contrast. It may be blank or badly exposed.",
			Severity:    "error",
			ActualValue: metrics.Contrast,
			Threshold:   qv.thresholds.MinContrast,
		})
	} else if metrics.LaplacianVar < qv.thresholds.MinLaplacianVariance {
		issues = append(issues, QualityIssue{
			Type:        "blurriness",
			Message:     "Scan is blurry. Bubble detection may be unreliable.",
			Severity:    "warning",
			ActualValue: metrics.LaplacianVar,
			Threshold:   qv.thresholds.MinLaplacianVariance,
		})
	}

	// 3. Brightness
	if metrics.Brightness < qv.thresholds.MinBrightness {
		issues = append(issues, QualityIssue{
			Type:        "too_dark",
			Message:     "Scan is too dark. Unfilled bubbles may read as marked.",
			Severity:    "warning",
			ActualValue: metrics.Brightness,
			Threshold:   qv.thresholds.MinBrightness,
		})
	} else if metrics.Brightness > qv.thresholds.MaxBrightness {
		issues = append(issues, QualityIssue{
			Type:        "too_bright",
			Message:     "Scan is almost white. Light pencil marks may be missed.",
			Severity:    "warning",
			ActualValue: metrics.Brightness,
			Threshold:   qv.thresholds.MaxBrightness,
		})
	}

	// 4. Skew
	if metrics.SkewAngle != nil && math.Abs(*metrics.SkewAngle) > qv.thresholds.MaxSkewAngle {
		issues = append(issues, QualityIssue{
			Type:        "skew",
			Message:     "Page is tilted. Alignment will try to correct it.",
			Severity:    "warning",
			ActualValue: math.Abs(*metrics.SkewAngle),
			Threshold:   qv.thresholds.MaxSkewAngle,
		})
	}

	return issues
}

// ConvertIssuesToMessages converts quality issues to simple messages
func (qv *QualityValidator) ConvertIssuesToMessages(issues []QualityIssue) []string {
	var messages []string
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	return messages
}

// HasCriticalIssues checks if there are any critical (error severity) issues
func (qv *QualityValidator) HasCriticalIssues(issues []QualityIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}

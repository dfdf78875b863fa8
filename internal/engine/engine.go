// Package engine marks one student's papers end to end: page extraction,
// quality checks, alignment, bubble detection, scoring and concept
// aggregation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go-omr-marker/internal/alignment"
	"go-omr-marker/internal/annotate"
	"go-omr-marker/internal/concepts"
	"go-omr-marker/internal/document"
	"go-omr-marker/internal/export"
	"go-omr-marker/internal/imaging"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/marker"
	"go-omr-marker/internal/observer"
	"go-omr-marker/internal/scoring"
	"go-omr-marker/internal/sheetcheck"
	"go-omr-marker/pkg/models"
	"go-omr-marker/pkg/validation"

	"gocv.io/x/gocv"
)

// StudentPapers are the scanned documents of one student.
type StudentPapers struct {
	StudentName  string
	WritingScore string

	// Documents hold raw uploads (PDF or image) by paper key.
	Documents map[string][]byte
	// Pages hold already decoded first pages and take precedence over Documents.
	Pages map[string]image.Image
}

// MarkingConfig is the per-session marking input.
type MarkingConfig struct {
	// AnswerKeys by section key.
	AnswerKeys map[string]models.AnswerKey
	Concepts   models.ConceptMap
}

// Outcome is a marked student and the pages the answers were read from.
type Outcome struct {
	Result *models.StudentResult
	// Pages in template coordinates when alignment succeeded.
	Pages map[string]*image.RGBA
}

// SheetChecker verifies the identity of a page.
type SheetChecker interface {
	Check(img image.Image, expect sheetcheck.Expectation) sheetcheck.Report
}

// Options configures an Engine.
type Options struct {
	Layout           models.ExamLayout
	Templates        map[string]image.Image
	Alignment        alignment.Options
	Marker           marker.MarkerOptions
	ConceptThreshold float64

	Quality      *validation.QualityValidator
	Metrics      imaging.MetricsCalculator
	SheetChecker SheetChecker
	Publisher    observer.Subject
}

// Engine is safe for concurrent use; every call works on its own state.
type Engine struct {
	layout     models.ExamLayout
	templates  map[string]image.Image
	aligner    *alignment.Aligner
	marker     marker.SheetMarker
	aggregator *concepts.Aggregator
	quality    *validation.QualityValidator
	metrics    imaging.MetricsCalculator
	checker    SheetChecker
	publisher  observer.Subject
}

// New validates the layout and builds an engine.
func New(opts Options) (*Engine, error) {
	for _, p := range opts.Layout.Papers {
		for _, s := range p.Sections {
			if len(s.Questions.Questions) == 0 {
				return nil, &SectionError{Section: s.Key, Err: ErrEmptyQuestionSet}
			}
		}
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}

	m, err := marker.NewSheetMarker(opts.Marker)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		layout:     opts.Layout,
		templates:  make(map[string]image.Image, len(opts.Templates)),
		aligner:    alignment.NewAligner(opts.Alignment),
		marker:     m,
		aggregator: concepts.NewAggregator(opts.ConceptThreshold),
		quality:    opts.Quality,
		metrics:    opts.Metrics,
		checker:    opts.SheetChecker,
		publisher:  opts.Publisher,
	}
	for k, v := range opts.Templates {
		if v != nil {
			e.templates[k] = v
		}
	}
	if e.quality == nil {
		e.quality = validation.NewQualityValidator()
	}
	if e.metrics == nil {
		e.metrics = imaging.NewMetricsCalculator()
	}
	if e.publisher == nil {
		e.publisher = observer.Nop{}
	}
	return e, nil
}

// Layout returns the exam layout the engine marks against.
func (e *Engine) Layout() models.ExamLayout {
	return e.layout
}

// MarkStudent marks every paper of the layout. Configuration problems
// (empty key, missing document) are fatal and return no partial result.
func (e *Engine) MarkStudent(ctx context.Context, papers StudentPapers, cfg MarkingConfig) (*Outcome, error) {
	start := time.Now()
	e.publisher.NotifyObservers(ctx, observer.NewEvent(observer.MarkingStarted, papers.StudentName))

	outcome, err := e.markStudent(ctx, papers, cfg)
	if err != nil {
		event := observer.NewEvent(observer.MarkingFailed, papers.StudentName)
		event.ErrorMessage = err.Error()
		var sectionErr *SectionError
		if errors.As(err, &sectionErr) {
			event.Metadata = map[string]interface{}{"section": sectionErr.Section}
		}
		e.publisher.NotifyObservers(ctx, event)
		return nil, err
	}

	event := observer.NewEvent(observer.MarkingCompleted, papers.StudentName)
	event.ProcessingTime = time.Since(start)
	event.Metadata = map[string]interface{}{"warnings": len(outcome.Result.Warnings)}
	e.publisher.NotifyObservers(ctx, event)
	return outcome, nil
}

func (e *Engine) markStudent(ctx context.Context, papers StudentPapers, cfg MarkingConfig) (*Outcome, error) {
	for _, p := range e.layout.Papers {
		for _, s := range p.Sections {
			key := cfg.AnswerKeys[s.Key]
			if len(key) == 0 {
				return nil, &SectionError{Section: s.Key, Err: ErrEmptyAnswerKey}
			}
			if err := key.Validate(); err != nil {
				return nil, &SectionError{Section: s.Key, Err: err}
			}
		}
	}

	log := logger.ForStudent(papers.StudentName)
	result := &models.StudentResult{
		StudentName:  papers.StudentName,
		WritingScore: papers.WritingScore,
	}
	outcome := &Outcome{Result: result, Pages: make(map[string]*image.RGBA, len(e.layout.Papers))}

	for _, p := range e.layout.Papers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := e.page(papers, p.Key)
		if err != nil {
			return nil, err
		}

		for _, msg := range e.checkQuality(page) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", p.Key, msg))
		}

		marked, report := e.align(ctx, papers.StudentName, p, page)
		result.Alignment = append(result.Alignment, report)
		if report.Warning != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", p.Key, report.Warning))
		}

		if e.checker != nil {
			check := e.checker.Check(marked, sheetcheck.Expectation{QRTag: p.QRTag, Title: p.Title})
			for _, w := range check.Warnings {
				log.WithField("paper", p.Key).Warn(w)
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", p.Key, w))
			}
		}

		sections, err := e.markPaper(ctx, papers.StudentName, marked, p, cfg)
		if err != nil {
			return nil, err
		}
		result.Sections = append(result.Sections, sections...)
		outcome.Pages[p.Key] = marked
	}

	result.StrengthsWeaknesses = e.aggregator.Aggregate(result.SubjectResults(), cfg.Concepts)
	result.MarkedAt = time.Now().UTC()
	return outcome, nil
}

// page returns the first page of a paper.
func (e *Engine) page(papers StudentPapers, paper string) (image.Image, error) {
	if img, ok := papers.Pages[paper]; ok && img != nil && !img.Bounds().Empty() {
		return img, nil
	}
	data, ok := papers.Documents[paper]
	if !ok || len(data) == 0 {
		return nil, &MissingInputError{Paper: paper, Err: ErrNoPages}
	}
	img, err := document.FirstPage(data)
	if err != nil {
		if errors.Is(err, document.ErrNoPages) {
			return nil, &MissingInputError{Paper: paper, Err: fmt.Errorf("%w: %v", ErrNoPages, err)}
		}
		return nil, &MissingInputError{Paper: paper, Err: err}
	}
	return img, nil
}

func (e *Engine) checkQuality(page image.Image) []string {
	m := e.metrics.Measure(imaging.ToGray(page))
	issues := e.quality.ValidateScan(validation.ScanQualityMetrics{
		Width:        m.Width,
		Height:       m.Height,
		LaplacianVar: m.LaplacianVar,
		Brightness:   m.Brightness,
		Contrast:     m.Contrast,
		SkewAngle:    m.SkewAngle,
	})
	return e.quality.ConvertIssuesToMessages(issues)
}

// align registers page onto the paper's template. Without a template, or
// when ECC fails, the page is marked as scanned.
func (e *Engine) align(ctx context.Context, student string, p models.PaperLayout, page image.Image) (*image.RGBA, models.AlignmentReport) {
	report := models.AlignmentReport{Paper: p.Key, Transform: alignment.Identity().Values()}

	template, ok := e.templates[p.Key]
	if !ok {
		return imaging.ToRGBA(page), report
	}

	aligned, err := e.aligner.Align(template, page)
	if err != nil {
		report.Warning = fmt.Sprintf("alignment failed, marking the unaligned page: %v", err)
		event := observer.NewEvent(observer.AlignmentFallback, student)
		event.Paper = p.Key
		event.Metadata = map[string]interface{}{"reason": err.Error()}
		e.publisher.NotifyObservers(ctx, event)
		return imaging.ToRGBA(page), report
	}

	report.Aligned = true
	report.Correlation = aligned.Correlation
	report.Transform = aligned.Transform.Values()
	return aligned.Aligned, report
}

// markPaper reads every section printed on one aligned page.
func (e *Engine) markPaper(ctx context.Context, student string, marked image.Image, p models.PaperLayout, cfg MarkingConfig) ([]models.SectionResult, error) {
	page, err := e.marker.Prepare(marked)
	defer page.Close()
	if err != nil {
		return nil, &MissingInputError{Paper: p.Key, Err: err}
	}

	sections := make([]models.SectionResult, 0, len(p.Sections))
	for _, s := range p.Sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		section, err := e.markSection(page, s, cfg.AnswerKeys[s.Key])
		if err != nil {
			return nil, err
		}
		for _, qe := range section.Errors {
			logger.ForStudent(student).WithField("section", s.Key).WithField("question", qe.QuestionID).Warn(qe.Reason)
		}
		sections = append(sections, section)
	}
	return sections, nil
}

func (e *Engine) markSection(page gocv.Mat, s models.SectionLayout, key models.AnswerKey) (models.SectionResult, error) {
	detection, err := e.marker.DetectAnswers(page, s.Questions)
	if err != nil {
		return models.SectionResult{}, &SectionError{Section: s.Key, Err: err}
	}

	section := scoring.MarkSection(detection.Answers, key)
	section.Section = s.Key
	section.Subject = s.Subject
	section.Errors = append(section.Errors, detection.Errors...)
	for _, id := range key.IDs() {
		if _, ok := s.Questions.Question(id); !ok {
			section.Errors = append(section.Errors, models.QuestionError{
				QuestionID: id,
				Reason:     fmt.Sprintf("question is keyed but not printed on the %s template", s.Key),
			})
		}
	}
	return section, nil
}

// Annotate draws incorrect answers and the paper score onto every marked
// page. Scores of sections sharing a page are summed under the paper label.
func (e *Engine) Annotate(outcome *Outcome) map[string]*image.RGBA {
	pages := make(map[string]*image.RGBA, len(outcome.Pages))
	for _, p := range e.layout.Papers {
		img, ok := outcome.Pages[p.Key]
		if !ok {
			continue
		}
		var correct, total int
		for _, s := range p.Sections {
			section, ok := outcome.Result.Section(s.Key)
			if !ok {
				continue
			}
			img = annotate.IncorrectBubbles(img, section, s.Questions)
			correct += section.Correct
			total += section.Total
		}
		label := p.Label
		if label == "" {
			label = p.Key
		}
		pages[p.Key] = annotate.SectionScore(img, label, correct, total, annotate.ScorePosition)
	}
	return pages
}

// Bundle annotates an outcome and orders its pages as the layout does.
func (e *Engine) Bundle(outcome *Outcome) export.StudentBundle {
	annotated := e.Annotate(outcome)
	b := export.StudentBundle{Name: outcome.Result.StudentName, Result: outcome.Result}
	for _, p := range e.layout.Papers {
		if img, ok := annotated[p.Key]; ok {
			b.Pages = append(b.Pages, export.Page{Paper: p.Key, Image: img})
		}
	}
	return b
}

// Package batch marks many students from one uploaded archive.
package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"go-omr-marker/internal/engine"
	"go-omr-marker/internal/export"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/observer"
	"go-omr-marker/pkg/models"

	"github.com/pkg/errors"
)

// maxMemberBytes bounds one scanned document inside a batch archive.
const maxMemberBytes = 64 << 20

// Marker marks one student. *engine.Engine satisfies it.
type Marker interface {
	Layout() models.ExamLayout
	MarkStudent(ctx context.Context, papers engine.StudentPapers, cfg engine.MarkingConfig) (*engine.Outcome, error)
	Bundle(outcome *engine.Outcome) export.StudentBundle
}

// Result is the outcome of a batch run.
type Result struct {
	Report models.BatchReport
	// Marked holds the successful results in manifest order.
	Marked []*models.StudentResult
}

// Processor marks manifest entries concurrently. One student's failure
// never affects the others.
type Processor struct {
	marker    Marker
	workers   int
	publisher observer.Subject
}

// NewProcessor creates a processor running at most workers students at once.
func NewProcessor(m Marker, workers int, publisher observer.Subject) *Processor {
	if publisher == nil {
		publisher = observer.Nop{}
	}
	return &Processor{marker: m, workers: workers, publisher: publisher}
}

// ParseManifest decodes a JSON array of batch entries.
func ParseManifest(data []byte) ([]models.BatchEntry, error) {
	var entries []models.BatchEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "parse batch manifest")
	}
	if len(entries) == 0 {
		return nil, errors.New("batch manifest lists no students")
	}
	return entries, nil
}

type slot struct {
	bundle  *export.StudentBundle
	failure *models.StudentFailure
}

// Run marks every manifest entry against documents in archive and writes
// the combined output archive to w.
func (p *Processor) Run(ctx context.Context, archive []byte, manifest []models.BatchEntry, cfg engine.MarkingConfig, w io.Writer) (*Result, error) {
	start := time.Now()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, errors.Wrap(err, "open batch archive")
	}
	members := indexMembers(zr)
	layout := p.marker.Layout()

	slots := make([]slot, len(manifest))
	seen := make(map[string]bool, len(manifest))

	pool := NewWorkerPool(p.workers)
	pool.Start()
	var mu sync.Mutex
	for i, entry := range manifest {
		entry.StudentName = strings.TrimSpace(entry.StudentName)
		files, failure := resolve(i, entry, layout, members, seen)
		if failure != nil {
			slots[i].failure = failure
			continue
		}
		i, entry := i, entry
		pool.Submit(func() {
			s := p.mark(ctx, entry, files, cfg)
			mu.Lock()
			slots[i] = s
			mu.Unlock()
		})
	}
	pool.Wait()
	pool.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Report: models.BatchReport{
		Total:     len(manifest),
		Succeeded: []string{},
		Failed:    []models.StudentFailure{},
	}}
	out := export.NewBatchArchive(w)
	for i, s := range slots {
		if s.failure != nil {
			result.Report.Failed = append(result.Report.Failed, *s.failure)
			continue
		}
		if s.bundle == nil {
			result.Report.Failed = append(result.Report.Failed, models.StudentFailure{
				StudentName: manifest[i].StudentName,
				Error:       "marking did not complete",
			})
			continue
		}
		if err := out.Add(*s.bundle); err != nil {
			result.Report.Failed = append(result.Report.Failed, models.StudentFailure{
				StudentName: s.bundle.Name,
				Error:       err.Error(),
			})
			continue
		}
		result.Report.Succeeded = append(result.Report.Succeeded, s.bundle.Name)
		result.Marked = append(result.Marked, s.bundle.Result)
	}
	if err := out.Close(result.Report); err != nil {
		return nil, errors.Wrap(err, "write batch archive")
	}

	event := observer.NewEvent(observer.BatchCompleted, "")
	event.ProcessingTime = time.Since(start)
	event.Metadata = map[string]interface{}{
		"total":     result.Report.Total,
		"succeeded": len(result.Report.Succeeded),
		"failed":    len(result.Report.Failed),
	}
	p.publisher.NotifyObservers(ctx, event)
	return result, nil
}

// mark runs one student. A panic inside the marker becomes that student's
// failure.
func (p *Processor) mark(ctx context.Context, entry models.BatchEntry, files map[string]*zip.File, cfg engine.MarkingConfig) (s slot) {
	log := logger.ForStudent(entry.StudentName)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Batch student panicked")
			s = slot{failure: &models.StudentFailure{
				StudentName: entry.StudentName,
				Error:       fmt.Sprintf("marking panicked: %v", r),
			}}
		}
	}()
	papers := engine.StudentPapers{
		StudentName:  entry.StudentName,
		WritingScore: entry.WritingScore,
		Documents:    make(map[string][]byte, len(files)),
	}
	for paper, f := range files {
		data, err := readMember(f)
		if err != nil {
			log.WithError(err).Warn("Failed to read batch document")
			return slot{failure: &models.StudentFailure{StudentName: entry.StudentName, Section: paper, Error: err.Error()}}
		}
		papers.Documents[paper] = data
	}

	outcome, err := p.marker.MarkStudent(ctx, papers, cfg)
	if err != nil {
		log.WithError(err).Warn("Batch student failed")
		return slot{failure: &models.StudentFailure{
			StudentName: entry.StudentName,
			Section:     failedSection(err),
			Error:       err.Error(),
		}}
	}
	b := p.marker.Bundle(outcome)
	return slot{bundle: &b}
}

// resolve checks an entry against the layout and the archive contents.
func resolve(i int, entry models.BatchEntry, layout models.ExamLayout, members map[string]*zip.File, seen map[string]bool) (map[string]*zip.File, *models.StudentFailure) {
	if entry.StudentName == "" {
		return nil, &models.StudentFailure{
			StudentName: fmt.Sprintf("entry %d", i+1),
			Error:       "missing field student_name",
		}
	}
	safe := export.SafeName(entry.StudentName)
	if seen[safe] {
		return nil, &models.StudentFailure{StudentName: entry.StudentName, Error: "duplicate student name in manifest"}
	}
	seen[safe] = true

	docs := entry.Documents()
	files := make(map[string]*zip.File, len(layout.Papers))
	for _, paper := range layout.Papers {
		name := strings.TrimSpace(docs[paper.Key])
		if name == "" {
			return nil, &models.StudentFailure{
				StudentName: entry.StudentName,
				Section:     paper.Key,
				Error:       "missing field " + manifestField(paper.Key),
			}
		}
		f, ok := lookupMember(members, name)
		if !ok {
			return nil, &models.StudentFailure{
				StudentName: entry.StudentName,
				Section:     paper.Key,
				Error:       fmt.Sprintf("archive has no document %q", name),
			}
		}
		files[paper.Key] = f
	}
	return files, nil
}

func manifestField(paper string) string {
	switch paper {
	case "reading":
		return "reading_pdf"
	case "qr_ar":
		return "qr_ar_pdf"
	default:
		return "documents." + paper
	}
}

func failedSection(err error) string {
	var sectionErr *engine.SectionError
	if errors.As(err, &sectionErr) {
		return sectionErr.Section
	}
	var inputErr *engine.MissingInputError
	if errors.As(err, &inputErr) {
		return inputErr.Paper
	}
	return ""
}

// indexMembers maps archive members by full path and by base name. Base
// names shared by several members are left out.
func indexMembers(zr *zip.Reader) map[string]*zip.File {
	members := make(map[string]*zip.File, len(zr.File)*2)
	bases := make(map[string]int, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members[f.Name] = f
		bases[path.Base(f.Name)]++
	}
	for _, f := range zr.File {
		base := path.Base(f.Name)
		if f.FileInfo().IsDir() || bases[base] != 1 {
			continue
		}
		if _, ok := members[base]; !ok {
			members[base] = f
		}
	}
	return members
}

func lookupMember(members map[string]*zip.File, name string) (*zip.File, bool) {
	f, ok := members[strings.TrimPrefix(name, "/")]
	return f, ok
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxMemberBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.Name)
	}
	if len(data) > maxMemberBytes {
		return nil, errors.Errorf("%s exceeds %d bytes", f.Name, maxMemberBytes)
	}
	return data, nil
}

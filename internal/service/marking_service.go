package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go-omr-marker/internal/batch"
	"go-omr-marker/internal/engine"
	apperrors "go-omr-marker/internal/errors"
	"go-omr-marker/internal/export"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/repository"
	"go-omr-marker/internal/session"
	"go-omr-marker/internal/storage"
	"go-omr-marker/pkg/models"

	"github.com/sirupsen/logrus"
)

// BatchArchiveName is the download name of a batch output archive.
const BatchArchiveName = "batch_annotated_output.zip"

// StudentRequest is one student's upload.
type StudentRequest struct {
	StudentName  string
	WritingScore string
	// Documents by paper key.
	Documents map[string][]byte
}

// MarkedArchive is the outcome of a marking call.
type MarkedArchive struct {
	Name    string
	Archive []byte
	// Location where the archive store kept a copy, if any.
	Location string
	Result   *models.StudentResult
	Report   *models.BatchReport
}

// MarkingService marks uploads against a session's configuration
type MarkingService interface {
	MarkStudent(ctx context.Context, sess *session.Session, req StudentRequest) (*MarkedArchive, error)
	MarkBatch(ctx context.Context, sess *session.Session, archive []byte, manifest []models.BatchEntry) (*MarkedArchive, error)
	History(ctx context.Context, student string, limit int) ([]*repository.MarkingRecord, error)
	Layout() models.ExamLayout
}

type markingService struct {
	marker    batch.Marker
	processor *batch.Processor
	records   repository.RecordRepository
	archives  storage.ArchiveStore
}

// NewMarkingService creates a marking service. records and archives are
// optional.
func NewMarkingService(
	marker batch.Marker,
	processor *batch.Processor,
	records repository.RecordRepository,
	archives storage.ArchiveStore,
) MarkingService {
	return &markingService{
		marker:    marker,
		processor: processor,
		records:   records,
		archives:  archives,
	}
}

func (s *markingService) Layout() models.ExamLayout {
	return s.marker.Layout()
}

// MarkStudent marks one student and packages the annotated papers.
func (s *markingService) MarkStudent(ctx context.Context, sess *session.Session, req StudentRequest) (*MarkedArchive, error) {
	if err := s.requireKeys(sess); err != nil {
		return nil, err
	}

	outcome, err := s.marker.MarkStudent(ctx, engine.StudentPapers{
		StudentName:  req.StudentName,
		WritingScore: req.WritingScore,
		Documents:    req.Documents,
	}, configFor(sess))
	if err != nil {
		return nil, classify(err)
	}

	data, err := export.StudentArchive(s.marker.Bundle(outcome))
	if err != nil {
		return nil, apperrors.NewProcessingError("Failed to build the output archive", err)
	}

	out := &MarkedArchive{
		Name:    export.ArchiveName(req.StudentName),
		Archive: data,
		Result:  outcome.Result,
	}
	out.Location = s.keepArchive(ctx, out.Name, data)
	s.saveRecords(ctx, outcome.Result)
	return out, nil
}

// MarkBatch marks every manifest entry. Students that fail are listed in
// the report and never abort the batch.
func (s *markingService) MarkBatch(ctx context.Context, sess *session.Session, archive []byte, manifest []models.BatchEntry) (*MarkedArchive, error) {
	if err := s.requireKeys(sess); err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, apperrors.NewValidationError("Batch manifest lists no students", nil)
	}

	var buf bytes.Buffer
	result, err := s.processor.Run(ctx, archive, manifest, configFor(sess), &buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(err)
		}
		return nil, apperrors.NewValidationError("Could not read the batch archive", err)
	}

	out := &MarkedArchive{
		Name:    BatchArchiveName,
		Archive: buf.Bytes(),
		Report:  &result.Report,
	}
	out.Location = s.keepArchive(ctx, out.Name, out.Archive)
	s.saveRecords(ctx, result.Marked...)

	logger.WithFields(logrus.Fields{
		"total":     result.Report.Total,
		"succeeded": len(result.Report.Succeeded),
		"failed":    len(result.Report.Failed),
	}).Info("Batch marking completed")
	return out, nil
}

// History lists the most recent marking records of a student.
func (s *markingService) History(ctx context.Context, student string, limit int) ([]*repository.MarkingRecord, error) {
	if s.records == nil {
		return nil, apperrors.NewNotFoundError("Marking history is not enabled", nil)
	}
	records, err := s.records.History(ctx, student, limit)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to load marking history", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("No marking history for %s", student), nil)
	}
	return records, nil
}

// requireKeys rejects sessions missing a key for any section of the layout.
func (s *markingService) requireKeys(sess *session.Session) error {
	if sess == nil {
		return apperrors.NewUnauthorizedError("Session required", nil)
	}
	for _, section := range s.marker.Layout().SectionKeys() {
		if len(sess.AnswerKeys[section]) == 0 {
			return apperrors.NewValidationError(
				fmt.Sprintf("Answer key for section %s is not loaded", section),
				&engine.SectionError{Section: section, Err: engine.ErrEmptyAnswerKey},
			)
		}
	}
	return nil
}

func (s *markingService) keepArchive(ctx context.Context, name string, data []byte) string {
	if s.archives == nil {
		return ""
	}
	location, err := s.archives.Put(ctx, name, data)
	if err != nil {
		logger.WithError(err).WithField("archive", name).Warn("Failed to store output archive")
		return ""
	}
	return location
}

func (s *markingService) saveRecords(ctx context.Context, results ...*models.StudentResult) {
	if s.records == nil {
		return
	}
	for _, r := range results {
		if err := s.records.Save(ctx, repository.NewRecord(r)); err != nil {
			logger.ForStudent(r.StudentName).WithError(err).Warn("Failed to save marking record")
		}
	}
}

func configFor(sess *session.Session) engine.MarkingConfig {
	return engine.MarkingConfig{AnswerKeys: sess.AnswerKeys, Concepts: sess.ConceptMap}
}

// classify maps engine errors to transport errors.
func classify(err error) error {
	var sectionErr *engine.SectionError
	var inputErr *engine.MissingInputError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError("Marking timed out", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewTimeoutError("Marking was cancelled", err)
	case errors.As(err, &inputErr):
		return apperrors.NewValidationError(fmt.Sprintf("Could not read the %s paper", inputErr.Paper), err)
	case errors.As(err, &sectionErr) && errors.Is(err, engine.ErrEmptyAnswerKey):
		return apperrors.NewValidationError(fmt.Sprintf("Answer key for section %s is not loaded", sectionErr.Section), err)
	case errors.As(err, &sectionErr):
		return apperrors.NewValidationError(fmt.Sprintf("Section %s cannot be marked", sectionErr.Section), err)
	default:
		return apperrors.NewProcessingError("Marking failed", err)
	}
}

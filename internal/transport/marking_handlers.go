package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-omr-marker/internal/batch"
	"go-omr-marker/internal/config"
	"go-omr-marker/internal/document"
	apperrors "go-omr-marker/internal/errors"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// scanContentTypes are the upload types accepted for scanned papers.
var scanContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
}

// paperField is the multipart field carrying a paper's scan.
func paperField(paper string) string {
	return paper + "_pdf"
}

func markSingleStudent(svc service.MarkingService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		if err := parseUpload(c); err != nil {
			respondError(c, determineStatusCode(err), "invalid upload", err)
			return
		}

		studentName := strings.TrimSpace(c.PostForm("student_name"))
		if studentName == "" {
			respondError(c, http.StatusBadRequest, "invalid request format",
				apperrors.NewValidationError("student_name is required", nil))
			return
		}

		req := service.StudentRequest{
			StudentName:  studentName,
			WritingScore: strings.TrimSpace(c.PostForm("writing_score")),
			Documents:    make(map[string][]byte),
		}
		for _, p := range svc.Layout().Papers {
			data, err := readScan(c, paperField(p.Key))
			if err != nil {
				respondError(c, determineStatusCode(err), "invalid upload", err)
				return
			}
			req.Documents[p.Key] = data
		}

		out, err := svc.MarkStudent(ctx, currentSession(c), req)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "marking failed", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"student":            studentName,
			"processing_time_ms": time.Since(startTime).Milliseconds(),
			"warnings":           len(out.Result.Warnings),
			"archive_location":   out.Location,
		}).Info("Student marked successfully")

		sendArchive(c, out)
	}
}

func markBatch(svc service.MarkingService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		if err := parseUpload(c); err != nil {
			respondError(c, determineStatusCode(err), "invalid upload", err)
			return
		}

		archive, err := readFormFile(c, "archive")
		if err != nil {
			respondError(c, determineStatusCode(err), "invalid upload", err)
			return
		}

		rawManifest, err := readManifest(c)
		if err != nil {
			respondError(c, determineStatusCode(err), "invalid upload", err)
			return
		}
		manifest, err := batch.ParseManifest(rawManifest)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid manifest",
				apperrors.NewValidationError("Manifest must be a JSON array of students", err))
			return
		}

		out, err := svc.MarkBatch(ctx, currentSession(c), archive, manifest)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "batch marking failed", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"students":           len(manifest),
			"failed":             len(out.Report.Failed),
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Batch marked")

		c.Header("X-Batch-Succeeded", strconv.Itoa(len(out.Report.Succeeded)))
		c.Header("X-Batch-Failed", strconv.Itoa(len(out.Report.Failed)))
		sendArchive(c, out)
	}
}

func sendArchive(c *gin.Context, out *service.MarkedArchive) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.Name}))
	c.Data(http.StatusOK, "application/zip", out.Archive)
}

// readScan reads a scanned paper and rejects uploads that are neither PDFs
// nor supported images.
func readScan(c *gin.Context, field string) ([]byte, error) {
	fh, err := formFile(c, field)
	if err != nil {
		return nil, err
	}
	contentType := fh.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if !scanContentTypes[contentType] {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("%s must be a PDF (got %q)", field, contentType), nil).WithDetails(field)
	}
	data, err := readFile(fh)
	if err != nil {
		return nil, err
	}
	if contentType == "application/pdf" && !document.IsPDF(data) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s is not a valid PDF", field), nil).WithDetails(field)
	}
	return data, nil
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := formFile(c, field)
	if err != nil {
		return nil, err
	}
	return readFile(fh)
}

// parseUpload reads the multipart form before any field is looked up, so
// parse failures are reported instead of surfacing as missing fields.
func parseUpload(c *gin.Context) error {
	if _, err := c.MultipartForm(); err != nil {
		return uploadError("Request must be multipart/form-data", err)
	}
	return nil
}

// uploadError leaves body size errors unwrapped so they map to 413.
func uploadError(message string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return apperrors.NewValidationError(message, err)
}

func formFile(c *gin.Context, field string) (*multipart.FileHeader, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, uploadError(fmt.Sprintf("%s is required", field), err)
	}
	return fh, nil
}

// readManifest accepts the manifest as an uploaded file or a plain field.
func readManifest(c *gin.Context) ([]byte, error) {
	if fh, err := c.FormFile("manifest"); err == nil {
		return readFile(fh)
	}
	if raw := c.PostForm("manifest"); raw != "" {
		return []byte(raw), nil
	}
	return nil, apperrors.NewValidationError("manifest is required", nil)
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to open upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to read upload", err)
	}
	return data, nil
}

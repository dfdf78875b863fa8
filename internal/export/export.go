// Package export packages marked papers into ZIP archives.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"strings"

	"go-omr-marker/internal/document"
	"go-omr-marker/pkg/models"

	"github.com/pkg/errors"
)

// BatchReportName is the summary file of a batch archive.
const BatchReportName = "batch_report.json"

// Page is an annotated page of one paper.
type Page struct {
	Paper string
	Image image.Image
}

// StudentBundle is everything written for one marked student.
type StudentBundle struct {
	Name   string
	Pages  []Page
	Result *models.StudentResult
}

// ArchiveName is the download name of a single-student archive.
func ArchiveName(student string) string {
	return SafeName(student) + "_annotated_output.zip"
}

// PDFName is the member name of a paper's annotated PDF.
func PDFName(student, paper string) string {
	return fmt.Sprintf("%s_%s_annotated.pdf", SafeName(student), paper)
}

// DataName is the member name of the marking payload.
func DataName(student string) string {
	return SafeName(student) + "_marking_data.json"
}

// SafeName keeps a student name usable as a single path element.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	if name == "" {
		return "student"
	}
	return name
}

// MarshalResult renders the marking payload with two-space indentation.
func MarshalResult(result *models.StudentResult) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal marking data")
	}
	return data, nil
}

// StudentArchive writes a ZIP holding one annotated PDF per page and the
// marking payload.
func StudentArchive(b StudentBundle) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeStudent(zw, "", b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close archive")
	}
	return buf.Bytes(), nil
}

// BatchArchive streams several students into one ZIP, each under a folder
// named after the student.
type BatchArchive struct {
	zw *zip.Writer
}

// NewBatchArchive starts a batch archive on w.
func NewBatchArchive(w io.Writer) *BatchArchive {
	return &BatchArchive{zw: zip.NewWriter(w)}
}

// Add writes one student under "<name>/".
func (a *BatchArchive) Add(b StudentBundle) error {
	return writeStudent(a.zw, SafeName(b.Name)+"/", b)
}

// Close writes the batch report and finishes the archive.
func (a *BatchArchive) Close(report models.BatchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal batch report")
	}
	if err := writeMember(a.zw, BatchReportName, data); err != nil {
		return err
	}
	return errors.Wrap(a.zw.Close(), "close archive")
}

func writeStudent(zw *zip.Writer, prefix string, b StudentBundle) error {
	if b.Result == nil {
		return errors.Errorf("student %s has no marking result", b.Name)
	}
	for _, p := range b.Pages {
		pdf, err := document.EncodePDF(p.Image)
		if err != nil {
			return errors.Wrapf(err, "render %s paper of %s", p.Paper, b.Name)
		}
		if err := writeMember(zw, prefix+PDFName(b.Name, p.Paper), pdf); err != nil {
			return err
		}
	}
	data, err := MarshalResult(b.Result)
	if err != nil {
		return err
	}
	return writeMember(zw, prefix+DataName(b.Name), data)
}

func writeMember(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "create %s", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

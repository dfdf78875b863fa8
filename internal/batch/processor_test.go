package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"go-omr-marker/internal/alignment"
	"go-omr-marker/internal/engine"
	"go-omr-marker/internal/engine/enginetest"
	"go-omr-marker/internal/export"
	"go-omr-marker/internal/marker"
	"go-omr-marker/internal/observer"
	"go-omr-marker/pkg/models"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.Options{
		Layout:    enginetest.Layout(),
		Alignment: alignment.DefaultOptions(),
		Marker:    marker.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

func createTestArchive(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		w.Write(data)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = b
	}
	return out
}

func TestParseManifest(t *testing.T) {
	entries, err := ParseManifest([]byte(`[{"student_name":"Alice","writing_score":"A","reading_pdf":"a_r.pdf","qr_ar_pdf":"a_q.pdf"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].StudentName != "Alice" || entries[0].QRARPDF != "a_q.pdf" {
		t.Errorf("unexpected entries %+v", entries)
	}

	for _, bad := range []string{`[]`, `{`, `{"student_name":"x"}`} {
		if _, err := ParseManifest([]byte(bad)); err == nil {
			t.Errorf("Expected error for %s", bad)
		}
	}
}

func TestProcessor_Run(t *testing.T) {
	l := enginetest.Layout()
	marks := enginetest.StudentMarks()
	reading := enginetest.PNG(enginetest.Page(l, "reading", marks))
	qrar := enginetest.PNG(enginetest.Page(l, "qr_ar", marks))

	archive := createTestArchive(t, map[string][]byte{
		"scans/alice_reading.png": reading,
		"scans/alice_qr_ar.png":   qrar,
		"bob_reading.png":         reading,
		"carol_reading.png":       []byte("not an image"),
		"carol_qr_ar.png":         qrar,
	})
	manifest := []models.BatchEntry{
		{StudentName: "Alice", WritingScore: "A", ReadingPDF: "alice_reading.png", QRARPDF: "scans/alice_qr_ar.png"},
		{StudentName: "Bob", ReadingPDF: "bob_reading.png", QRARPDF: "bob_qr_ar.png"},
		{StudentName: "", ReadingPDF: "x.png", QRARPDF: "y.png"},
		{StudentName: "Carol", ReadingPDF: "carol_reading.png", QRARPDF: "carol_qr_ar.png"},
		{StudentName: "Dan", ReadingPDF: "bob_reading.png"},
		{StudentName: "Alice", ReadingPDF: "alice_reading.png", QRARPDF: "alice_qr_ar.png"},
	}

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(metrics)

	cfg := engine.MarkingConfig{AnswerKeys: enginetest.Keys(), Concepts: enginetest.Concepts()}
	var out bytes.Buffer
	result, err := NewProcessor(newTestEngine(t), 2, publisher).Run(context.Background(), archive, manifest, cfg, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	publisher.Wait()

	report := result.Report
	if report.Total != 6 {
		t.Errorf("Expected total 6, got %d", report.Total)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "Alice" {
		t.Errorf("Expected only Alice to succeed, got %v", report.Succeeded)
	}
	if len(result.Marked) != 1 || result.Marked[0].WritingScore != "A" {
		t.Errorf("Expected Alice's result, got %+v", result.Marked)
	}

	wantFailures := []models.StudentFailure{
		{StudentName: "Bob", Section: "qr_ar"},
		{StudentName: "entry 3"},
		{StudentName: "Carol", Section: "reading"},
		{StudentName: "Dan", Section: "qr_ar"},
		{StudentName: "Alice"},
	}
	if len(report.Failed) != len(wantFailures) {
		t.Fatalf("Expected %d failures, got %+v", len(wantFailures), report.Failed)
	}
	for i, want := range wantFailures {
		got := report.Failed[i]
		if got.StudentName != want.StudentName || got.Section != want.Section || got.Error == "" {
			t.Errorf("failure %d: expected %s/%s with a message, got %+v", i, want.StudentName, want.Section, got)
		}
	}
	if report.Failed[3].Error != "missing field qr_ar_pdf" {
		t.Errorf("Expected missing field message, got %q", report.Failed[3].Error)
	}

	files := readZip(t, out.Bytes())
	for _, name := range []string{
		"Alice/" + export.PDFName("Alice", "reading"),
		"Alice/" + export.PDFName("Alice", "qr_ar"),
		"Alice/" + export.DataName("Alice"),
		export.BatchReportName,
	} {
		if _, ok := files[name]; !ok {
			t.Errorf("Expected %s in batch archive, got %v", name, len(files))
		}
	}
	for name := range files {
		if strings.HasPrefix(name, "Bob/") || strings.HasPrefix(name, "Carol/") {
			t.Errorf("Failed student should not have output, found %s", name)
		}
	}

	var written models.BatchReport
	if err := json.Unmarshal(files[export.BatchReportName], &written); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if written.Total != 6 || len(written.Failed) != 5 {
		t.Errorf("Expected written report to match, got %+v", written)
	}

	m := metrics.GetMetrics()
	// Only the batch event goes through the processor's publisher.
	if m["batches_completed"].(int64) != 1 {
		t.Errorf("Expected one batch event, got %v", m["batches_completed"])
	}
}

func TestProcessor_InvalidArchive(t *testing.T) {
	cfg := engine.MarkingConfig{AnswerKeys: enginetest.Keys()}
	_, err := NewProcessor(newTestEngine(t), 1, nil).Run(context.Background(), []byte("nope"), []models.BatchEntry{{StudentName: "A"}}, cfg, io.Discard)
	if err == nil {
		t.Error("Expected error for a non-zip archive")
	}
}

func TestProcessor_CancelledContext(t *testing.T) {
	l := enginetest.Layout()
	marks := enginetest.StudentMarks()
	archive := createTestArchive(t, map[string][]byte{
		"r.png": enginetest.PNG(enginetest.Page(l, "reading", marks)),
		"q.png": enginetest.PNG(enginetest.Page(l, "qr_ar", marks)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := engine.MarkingConfig{AnswerKeys: enginetest.Keys()}
	manifest := []models.BatchEntry{{StudentName: "A", ReadingPDF: "r.png", QRARPDF: "q.png"}}
	if _, err := NewProcessor(newTestEngine(t), 1, nil).Run(ctx, archive, manifest, cfg, io.Discard); err == nil {
		t.Error("Expected error for a cancelled batch")
	}
}

// stubMarker fails hard for the students named in panics.
type stubMarker struct {
	panics map[string]bool
}

func (m stubMarker) Layout() models.ExamLayout { return enginetest.Layout() }

func (m stubMarker) MarkStudent(ctx context.Context, papers engine.StudentPapers, cfg engine.MarkingConfig) (*engine.Outcome, error) {
	if m.panics[papers.StudentName] {
		panic("corrupt page stream")
	}
	return &engine.Outcome{Result: &models.StudentResult{StudentName: papers.StudentName}}, nil
}

func (m stubMarker) Bundle(outcome *engine.Outcome) export.StudentBundle {
	return export.StudentBundle{Name: outcome.Result.StudentName, Result: outcome.Result}
}

func TestProcessor_PanickingStudentIsIsolated(t *testing.T) {
	archive := createTestArchive(t, map[string][]byte{
		"r.png": []byte("r"),
		"q.png": []byte("q"),
	})
	manifest := []models.BatchEntry{
		{StudentName: "bad", ReadingPDF: "r.png", QRARPDF: "q.png"},
		{StudentName: "good", ReadingPDF: "r.png", QRARPDF: "q.png"},
	}

	for _, workers := range []int{1, 2} {
		var out bytes.Buffer
		p := NewProcessor(stubMarker{panics: map[string]bool{"bad": true}}, workers, nil)
		result, err := p.Run(context.Background(), archive, manifest, engine.MarkingConfig{}, &out)
		if err != nil {
			t.Fatalf("workers=%d: unexpected error: %v", workers, err)
		}

		report := result.Report
		if len(report.Succeeded) != 1 || report.Succeeded[0] != "good" {
			t.Errorf("workers=%d: expected only good to succeed, got %v", workers, report.Succeeded)
		}
		if len(report.Failed) != 1 || report.Failed[0].StudentName != "bad" {
			t.Fatalf("workers=%d: expected bad to fail, got %+v", workers, report.Failed)
		}
		if !strings.Contains(report.Failed[0].Error, "corrupt page stream") {
			t.Errorf("workers=%d: expected the panic in the failure, got %q", workers, report.Failed[0].Error)
		}
		if _, ok := readZip(t, out.Bytes())["good/"+export.DataName("good")]; !ok {
			t.Errorf("workers=%d: expected good's results in the archive", workers)
		}
	}
}

// Command omrmark marks scanned answer sheets from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go-omr-marker/internal/batch"
	"go-omr-marker/internal/concepts"
	"go-omr-marker/internal/config"
	"go-omr-marker/internal/factory"
	"go-omr-marker/internal/layout"
	"go-omr-marker/internal/logger"
	"go-omr-marker/internal/observer"
	"go-omr-marker/internal/scoring"
	"go-omr-marker/internal/service"
	"go-omr-marker/internal/session"
	"go-omr-marker/internal/storage"
	"go-omr-marker/pkg/validation"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v3"
	"github.com/pkg/errors"
)

type options struct {
	layoutFile      string
	readingKey      string
	qrarKey         string
	concepts        string
	student         string
	writingScore    string
	reading         string
	qrar            string
	templateReading string
	templateQRAR    string
	batchArchive    string
	manifest        string
	outDir          string
	policy          string
	minFillDelta    float64
	threshold       float64
	alignMaxDim     int
	workers         int
	sheetCheck      bool
	logLevel        string
}

func main() {
	fs := flag.NewFlagSet("omrmark", flag.ExitOnError)
	var o options
	_ = fs.String("config", "", "config file (optional), json format.")
	fs.StringVar(&o.layoutFile, "layout", "", "exam layout json, built-in layout when empty")
	fs.StringVar(&o.readingKey, "reading-key", "", "reading answer key json file")
	fs.StringVar(&o.qrarKey, "qr-ar-key", "", "QR/AR answer key json file")
	fs.StringVar(&o.concepts, "concepts", "", "concept map json file (optional)")
	fs.StringVar(&o.student, "student", "", "student name, marks a single student")
	fs.StringVar(&o.writingScore, "writing-score", "", "writing score copied into the result")
	fs.StringVar(&o.reading, "reading", "", "reading paper scan (pdf or image)")
	fs.StringVar(&o.qrar, "qr-ar", "", "QR/AR paper scan (pdf or image)")
	fs.StringVar(&o.templateReading, "template-reading", "", "blank reading sheet used for alignment")
	fs.StringVar(&o.templateQRAR, "template-qr-ar", "", "blank QR/AR sheet used for alignment")
	fs.StringVar(&o.batchArchive, "batch", "", "zip of scans, marks every student in -manifest")
	fs.StringVar(&o.manifest, "manifest", "", "batch manifest json file")
	fs.StringVar(&o.outDir, "out", ".", "directory receiving the output archive")
	fs.StringVar(&o.policy, "policy", "strict_margin", "bubble selection policy: strict_margin or naive_darkest")
	fs.Float64Var(&o.minFillDelta, "min-fill-delta", 12, "intensity margin required between the two darkest bubbles")
	fs.Float64Var(&o.threshold, "concept-threshold", 51, "percentage at or above which a concept is done well")
	fs.IntVar(&o.alignMaxDim, "align-max-dimension", 1200, "longest side used while estimating alignment, 0 for full size")
	fs.IntVar(&o.workers, "workers", runtime.NumCPU(), "students marked concurrently in batch mode")
	fs.BoolVar(&o.sheetCheck, "sheet-check", false, "verify sheet QR tags and titles")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("OMR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "omrmark: %v\n", err)
		os.Exit(2)
	}
	logger.SetLevel(o.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "omrmark: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if (o.student == "") == (o.batchArchive == "") {
		return errors.New("give either -student with -reading and -qr-ar, or -batch with -manifest")
	}

	sess, err := loadSession(o)
	if err != nil {
		return err
	}

	cfg := o.config()
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid options")
	}

	publisher := observer.NewEventPublisher()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	defer publisher.Wait()

	checker, closer := factory.NewSheetChecker(cfg)
	if closer != nil {
		defer closer.Close()
	}
	e, err := factory.NewEngine(ctx, cfg, factory.EngineDeps{
		Templates:    factory.NewTemplateFetcher(nil),
		SheetChecker: checker,
		Publisher:    publisher,
	})
	if err != nil {
		return errors.Wrap(err, "create marking engine")
	}

	archives, err := storage.NewLocalArchiveStore(o.outDir)
	if err != nil {
		return err
	}
	svc := service.NewMarkingService(e, batch.NewProcessor(e, o.workers, publisher), nil, archives)

	if o.batchArchive != "" {
		return markBatch(ctx, svc, sess, o)
	}
	return markStudent(ctx, svc, sess, o)
}

func markStudent(ctx context.Context, svc service.MarkingService, sess *session.Session, o options) error {
	scans := map[string]string{layout.PaperReading: o.reading, layout.PaperQRAR: o.qrar}
	docs := make(map[string][]byte)
	for _, paper := range svc.Layout().Papers {
		path := scans[paper.Key]
		if path == "" {
			return errors.Errorf("missing scan for the %s paper", paper.Key)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read %s scan", paper.Key)
		}
		docs[paper.Key] = data
	}

	out, err := svc.MarkStudent(ctx, sess, service.StudentRequest{
		StudentName:  o.student,
		WritingScore: o.writingScore,
		Documents:    docs,
	})
	if err != nil {
		return err
	}

	for _, s := range out.Result.Sections {
		fmt.Printf("%-8s %d/%d", s.Section, s.Correct, s.Total)
		if wrong := scoring.Incorrect(s); len(wrong) > 0 {
			fmt.Printf("  incorrect: %s", strings.Join(wrong, ","))
		}
		fmt.Println()
	}
	agg := concepts.NewAggregator(o.threshold)
	for _, c := range agg.Scores(out.Result.SubjectResults(), sess.ConceptMap) {
		fmt.Printf("%s / %s: %.0f%% (%d/%d)\n", c.Subject, c.Concept, c.Percent, c.Correct, c.Total)
	}
	for _, w := range out.Result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return report(o, out)
}

func markBatch(ctx context.Context, svc service.MarkingService, sess *session.Session, o options) error {
	archive, err := os.ReadFile(o.batchArchive)
	if err != nil {
		return errors.Wrap(err, "read batch archive")
	}
	if o.manifest == "" {
		return errors.New("-batch needs -manifest")
	}
	raw, err := os.ReadFile(o.manifest)
	if err != nil {
		return errors.Wrap(err, "read manifest")
	}
	manifest, err := batch.ParseManifest(raw)
	if err != nil {
		return err
	}

	out, err := svc.MarkBatch(ctx, sess, archive, manifest)
	if err != nil {
		return err
	}
	for _, f := range out.Report.Failed {
		fmt.Printf("failed: %s %s %s\n", f.StudentName, f.Section, f.Error)
	}
	fmt.Printf("marked %d of %d students\n", len(out.Report.Succeeded), out.Report.Total)
	return report(o, out)
}

// report prints where the archive went. The archive store only logs write
// failures, so a missing location falls back to a direct write.
func report(o options, out *service.MarkedArchive) error {
	location := out.Location
	if location == "" {
		location = filepath.Join(o.outDir, out.Name)
		if err := os.WriteFile(location, out.Archive, 0o644); err != nil {
			return errors.Wrap(err, "write output archive")
		}
	}
	fmt.Printf("wrote %s\n", location)
	return nil
}

// loadSession builds an in-memory session from the key files.
func loadSession(o options) (*session.Session, error) {
	sess := session.New(uuid.NewString(), time.Now())

	raw, err := readOptional(o.readingKey, "reading key")
	if err != nil {
		return nil, err
	}
	if raw != nil {
		key, err := validation.ParseAnswerKey(raw)
		if err != nil {
			return nil, errors.Wrap(err, o.readingKey)
		}
		sess.SetKey(layout.SectionReading, key)
	}

	if raw, err = readOptional(o.qrarKey, "QR/AR key"); err != nil {
		return nil, err
	}
	if raw != nil {
		qr, ar, err := validation.ParseQRARKey(raw)
		if err != nil {
			return nil, errors.Wrap(err, o.qrarKey)
		}
		sess.SetKey(layout.SectionQR, qr)
		sess.SetKey(layout.SectionAR, ar)
	}

	if raw, err = readOptional(o.concepts, "concept map"); err != nil {
		return nil, err
	}
	if raw != nil {
		cm, err := validation.ParseConceptMap(raw)
		if err != nil {
			return nil, errors.Wrap(err, o.concepts)
		}
		sess.ConceptMap = cm
	}
	return sess, nil
}

func readOptional(path, what string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", what)
	}
	return data, nil
}

// config maps the flags onto the settings shared with the API server.
func (o options) config() *config.Config {
	return &config.Config{
		Host:               "localhost",
		Port:               "8080",
		RequestTimeout:     time.Hour,
		TemplateTimeout:    time.Minute,
		MaxRequestBodySize: 1,
		SessionStore:       config.StoreMemory,
		SessionTTL:         time.Hour,
		RecordStore:        config.StoreNone,
		ArchiveStore:       config.StoreLocal,
		ArchiveDir:         o.outDir,
		LayoutFile:         o.layoutFile,
		TemplateReading:    o.templateReading,
		TemplateQRAR:       o.templateQRAR,
		AlignMaxIterations: 80,
		AlignEpsilon:       1e-6,
		AlignMaxDimension:  o.alignMaxDim,
		MinFillDelta:       o.minFillDelta,
		SelectionPolicy:    o.policy,
		ConceptThreshold:   o.threshold,
		BatchWorkers:       o.workers,
		SheetCheck:         o.sheetCheck,
	}
}

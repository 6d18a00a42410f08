// Package resolve runs one farm task: a single stage of a job's resolve
// chain over a single frame. The master writes a job sheet at submit time;
// the runner loads it, merges settings and drives the photogrammetry engine,
// surfacing progress through a callback so the same code serves the farm
// wrapper and an embedded GUI run.
package resolve

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fourdrec/fourdrec/internal/farm"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/pkg/fourdframe"
	"github.com/fourdrec/fourdrec/pkg/fourdroll"
)

// Request is one farm task invocation.
type Request struct {
	// Stage selects the processor.
	Stage farm.Stage
	// Frame is the farm-relative frame. Single-frame stages get 0.
	Frame int
	// SheetPath locates the job sheet written at submit time.
	SheetPath string
	// ExtraSettings is an optional JSON document merged over the sheet.
	ExtraSettings string
}

// Runner executes stage requests against an engine.
type Runner struct {
	engine Engine
	events Callback
	log    *slog.Logger
}

// NewRunner wires a runner. events may be nil.
func NewRunner(engine Engine, events Callback, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: engine, events: events, log: logger}
}

// Run executes one request to completion, emitting COMPLETE or FAIL last.
func (r *Runner) Run(ctx context.Context, req Request) error {
	sheet, settings, err := r.load(req)
	if err != nil {
		r.fail(err)
		return err
	}

	r.emit(Event{Kind: EventLogInfo, Message: fmt.Sprintf(
		"%s %s: %s stage, frame %d", sheet.ShotName, sheet.JobName, req.Stage, req.Frame)})
	r.log.Info("stage starting",
		"stage", string(req.Stage),
		"frame", req.Frame,
		"job_id", sheet.JobID)

	switch req.Stage {
	case farm.StageInitialize:
		err = r.initialize(ctx, sheet, settings)
	case farm.StageResolve:
		err = r.resolve(ctx, sheet, settings, req.Frame)
	case farm.StageConversion:
		err = r.convert(ctx, sheet, settings, req.Frame)
	case farm.StageExport:
		err = r.export(sheet, settings)
	default:
		err = fmt.Errorf("unknown stage %q", req.Stage)
	}
	if err != nil {
		r.fail(err)
		return err
	}

	r.emit(Event{Kind: EventComplete})
	return nil
}

// load reads the sheet and folds the settings layers together.
func (r *Runner) load(req Request) (farm.Sheet, Settings, error) {
	data, err := os.ReadFile(req.SheetPath)
	if err != nil {
		return farm.Sheet{}, Settings{}, fmt.Errorf("reading job sheet: %w", err)
	}
	sheet, err := farm.ParseSheet(data)
	if err != nil {
		return farm.Sheet{}, Settings{}, fmt.Errorf("parsing job sheet: %w", err)
	}
	settings := DefaultSettings()
	settings.ApplySheet(sheet)
	if err := settings.ApplyJSON(req.ExtraSettings); err != nil {
		return farm.Sheet{}, Settings{}, err
	}
	return sheet, settings, nil
}

func (r *Runner) open(ctx context.Context, sheet farm.Sheet, settings Settings) (Session, error) {
	return r.engine.Open(ctx, Project{
		Dir:         sheet.JobPath,
		PhotosDir:   sheet.ShotPath,
		CaliArchive: sheet.CaliPath,
		Settings:    settings,
		Events:      r.events,
	})
}

// initialize aligns cameras and, for calibration shots, archives the
// calibrated scene beside the sheet for later jobs to import.
func (r *Runner) initialize(ctx context.Context, sheet farm.Sheet, settings Settings) error {
	session, err := r.open(ctx, sheet, settings)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if sheet.CaliPath != "" {
		return nil
	}
	dst := filepath.Join(sheet.JobPath, storage.CaliArchiveName)
	if err := archiveFolder(dst, session.CalibrationDir()); err != nil {
		return err
	}
	r.emit(Event{
		Kind:    EventNotification,
		Title:   "Calibration archived",
		Message: fmt.Sprintf("%s %s calibration is ready for capture sessions", sheet.ShotName, sheet.JobName),
	})
	return nil
}

func (r *Runner) resolve(ctx context.Context, sheet farm.Sheet, settings Settings, frame int) error {
	session, err := r.open(ctx, sheet, settings)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Resolve(ctx, frame); err != nil {
		return fmt.Errorf("resolve frame %d: %w", frame, err)
	}
	return nil
}

// convert extracts one resolved frame into a frame record under the job's
// output folder. The write is atomic, so a killed task never leaves a half
// record for the playback cache.
func (r *Runner) convert(ctx context.Context, sheet farm.Sheet, settings Settings, frame int) error {
	session, err := r.open(ctx, sheet, settings)
	if err != nil {
		return err
	}
	defer session.Close()

	rec, err := session.Extract(ctx, frame)
	if err != nil {
		return fmt.Errorf("extract frame %d: %w", frame, err)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("frame %d: %w", frame, err)
	}

	dir := filepath.Join(sheet.JobPath, settings.OutputFolderName, "frame")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating record folder: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%04d%s", frame, fourdframe.Suffix))
	if err := fourdframe.Save(path, rec); err != nil {
		return fmt.Errorf("saving frame %d: %w", frame, err)
	}
	r.emit(Event{Kind: EventProgress, Percent: 100})
	return nil
}

// export packs every converted record into the job's roll, with the job
// audio when present. Runs after the conversion batch completes, so missing
// records here are a real failure, not an in-progress state.
func (r *Runner) export(sheet farm.Sheet, settings Settings) error {
	outDir := filepath.Join(sheet.JobPath, settings.OutputFolderName)
	frameDir := filepath.Join(outDir, "frame")
	entries, err := os.ReadDir(frameDir)
	if err != nil {
		return fmt.Errorf("listing frame records: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), fourdframe.Suffix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no frame records under %s", frameDir)
	}
	sort.Strings(names)

	meta := fourdroll.Meta{
		Name:               sheet.JobName,
		ID:                 sheet.JobID,
		FPS:                settings.FPS,
		GeoFormat:          "geo-zlib",
		TextureFormat:      "jpeg",
		TextureResolutions: []int{settings.TextureSize},
	}
	rollPath := filepath.Join(outDir, storage.ExportRollName)
	writer, err := fourdroll.NewWriter(rollPath, meta)
	if err != nil {
		return fmt.Errorf("opening roll: %w", err)
	}

	for i, name := range names {
		rec, err := fourdframe.Load(filepath.Join(frameDir, name))
		if err != nil {
			writer.Abort()
			return fmt.Errorf("loading %s: %w", name, err)
		}
		geo, err := geoBlob(rec)
		if err != nil {
			writer.Abort()
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := writer.AppendFrame(geo, rec.Texture); err != nil {
			writer.Abort()
			return fmt.Errorf("appending %s: %w", name, err)
		}
		r.emit(Event{Kind: EventProgress, Percent: float64(i+1) / float64(len(names)) * 100})
	}

	audioPath := filepath.Join(outDir, storage.AudioFileName)
	if f, err := os.Open(audioPath); err == nil {
		err = writer.SetAudio(f)
		f.Close()
		if err != nil {
			writer.Abort()
			return fmt.Errorf("packing audio: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing roll: %w", err)
	}
	r.emit(Event{Kind: EventLogInfo, Message: fmt.Sprintf("packed %d frames into %s", len(names), storage.ExportRollName)})
	return nil
}

// geoBlob encodes the record's geometry without its texture; the roll keeps
// the JPEG in its own region so texture-only reads stay cheap.
func geoBlob(rec *fourdframe.Record) ([]byte, error) {
	var buf bytes.Buffer
	geo := &fourdframe.Record{Positions: rec.Positions, UVs: rec.UVs}
	if err := fourdframe.Encode(&buf, geo); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Runner) emit(ev Event) {
	if r.events != nil {
		r.events(ev)
	}
}

func (r *Runner) fail(err error) {
	r.log.Error("stage failed", "error", err)
	r.emit(Event{Kind: EventFail, Message: err.Error()})
}

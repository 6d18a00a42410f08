// Package export turns a resolved job's frame records into DCC-friendly
// deliverables: an Alembic archive, an OBJ sequence, or a 4DH folder, each
// with a texture sequence and the job's audio window beside it.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/internal/worker"
	"github.com/fourdrec/fourdrec/pkg/fourdframe"
)

// Destination suffixes the engine understands.
const (
	SuffixAlembic = ".abc"
	SuffixOBJ     = ".obj"
	Suffix4DH     = ".4dh"
)

const defaultFPS = 30.0

// ErrUnknownFormat is returned when the destination suffix matches no
// exporter.
var ErrUnknownFormat = errors.New("export: unknown destination format")

// Order describes one export run. Paths are absolute; the frame window is
// farm-relative like the on-disk record names.
type Order struct {
	// JobDir is the job folder; records live under output/frame.
	JobDir string
	// Frames is the inclusive farm frame window to export.
	Frames [2]int
	// ShotDir is the shot folder holding audio.wav, empty to skip audio.
	ShotDir string
	// ShotStart is the first recorded shot frame, the audio timeline zero.
	ShotStart int
	// OffsetFrame maps farm frame 0 onto the shot timeline.
	OffsetFrame int
	// FPS is the capture rate, used for audio math and archive sampling.
	// Zero means the studio default of 30.
	FPS float64
	// Destination is the target file; its suffix picks the format.
	Destination string
}

func (o Order) frameCount() int { return o.Frames[1] - o.Frames[0] + 1 }

func (o Order) fps() float64 {
	if o.FPS > 0 {
		return o.FPS
	}
	return defaultFPS
}

// TickFunc reports per-frame progress: done out of total.
type TickFunc func(done, total int)

// Engine runs exports over a shared worker pool. Safe for sequential reuse;
// one export runs at a time per engine.
type Engine struct {
	pool     *worker.Pool
	trimmer  AudioTrimmer
	archiver ArchiverFactory
	log      *slog.Logger
}

// NewEngine builds an engine. trimmer may be nil (audio is skipped) and
// archiver may be nil (.abc orders fail with ErrNoArchiver).
func NewEngine(cfg config.ExportConfig, trimmer AudioTrimmer, archiver ArchiverFactory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Engine{
		pool:     worker.NewPool(workers, logger),
		trimmer:  trimmer,
		archiver: archiver,
		log:      logger,
	}
}

// Close releases the worker pool.
func (e *Engine) Close() { e.pool.Close() }

// Export runs one order to completion. Missing frame records inside the
// window are logged, ticked and omitted rather than failing the export.
func (e *Engine) Export(ctx context.Context, order Order, onTick TickFunc) error {
	if order.Destination == "" {
		return fmt.Errorf("export: destination is empty")
	}
	if order.Frames[1] < order.Frames[0] {
		return fmt.Errorf("export: frame window [%d, %d] is inverted", order.Frames[0], order.Frames[1])
	}
	if onTick == nil {
		onTick = func(int, int) {}
	}
	format := strings.ToLower(filepath.Ext(order.Destination))
	switch format {
	case SuffixOBJ, Suffix4DH, SuffixAlembic:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	assetDir := assetFolder(order.Destination)
	if err := os.MkdirAll(assetDir, 0o750); err != nil {
		return fmt.Errorf("creating asset folder: %w", err)
	}

	e.exportAudio(ctx, order, assetDir)

	start := time.Now()
	var err error
	switch format {
	case SuffixOBJ:
		err = e.exportSequence(order, assetDir, "obj", ".obj", writeOBJFile, onTick)
	case Suffix4DH:
		err = e.exportSequence(order, assetDir, "geo", fourdframe.Suffix, writeGeoFile, onTick)
	case SuffixAlembic:
		err = e.exportAlembic(order, assetDir, onTick)
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	e.log.Info("export finished",
		"destination", order.Destination,
		"frames", order.frameCount(),
		"elapsed", time.Since(start))
	return nil
}

// exportAudio trims the job window out of the shot audio. Audio is additive:
// failures are logged and the geometry export proceeds.
func (e *Engine) exportAudio(ctx context.Context, order Order, assetDir string) {
	if order.ShotDir == "" {
		return
	}
	src := storage.ShotAudioRel(order.ShotDir)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		e.log.Debug("shot has no audio", "shot_dir", order.ShotDir)
		return
	}
	if e.trimmer == nil {
		e.log.Warn("no audio tool wired in, skipping audio", "src", src)
		return
	}

	fps := order.fps()
	offset := time.Duration(float64(order.OffsetFrame+order.Frames[0]-order.ShotStart) / fps * float64(time.Second))
	if offset < 0 {
		offset = 0
	}
	duration := time.Duration(float64(order.frameCount()) / fps * float64(time.Second))

	dst := filepath.Join(assetDir, storage.AudioFileName)
	if err := e.trimmer.Trim(ctx, src, dst, offset, duration); err != nil {
		e.log.Warn("trimming audio", "src", src, "error", err)
		return
	}
	e.log.Debug("audio trimmed", "dst", dst, "offset", offset, "duration", duration)
}

// sequenceResult is one per-frame task outcome for folder formats.
type sequenceResult struct {
	frame   int
	missing bool
}

// exportSequence writes one geometry file and one texture per frame in
// parallel, ticking once per frame.
func (e *Engine) exportSequence(order Order, assetDir, geoSub, geoExt string, writeGeo func(string, *fourdframe.Record) error, onTick TickFunc) error {
	geoDir := filepath.Join(assetDir, geoSub)
	texDir := filepath.Join(assetDir, "texture")
	for _, dir := range []string{geoDir, texDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	total := order.frameCount()
	tasks := make([]*worker.Task[sequenceResult], 0, total)
	for frame := order.Frames[0]; frame <= order.Frames[1]; frame++ {
		f := frame
		tasks = append(tasks, worker.Submit(e.pool, func(context.Context) (sequenceResult, error) {
			rec, err := fourdframe.Load(storage.FrameRecordRel(order.JobDir, f))
			if errors.Is(err, fs.ErrNotExist) {
				return sequenceResult{frame: f, missing: true}, nil
			}
			if err != nil {
				return sequenceResult{frame: f}, err
			}
			if err := writeGeo(filepath.Join(geoDir, fmt.Sprintf("%04d%s", f, geoExt)), rec); err != nil {
				return sequenceResult{frame: f}, err
			}
			if err := os.WriteFile(filepath.Join(texDir, fmt.Sprintf("%04d.jpg", f)), rec.Texture, 0o640); err != nil {
				return sequenceResult{frame: f}, err
			}
			return sequenceResult{frame: f}, nil
		}))
	}

	done := 0
	var firstErr error
	for t := range worker.AsCompleted(tasks) {
		res, err := t.Value()
		done++
		onTick(done, total)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = fmt.Errorf("frame %d: %w", res.frame, err)
			}
		case res.missing:
			e.log.Warn("frame record missing, omitted", "frame", res.frame)
		}
	}
	return firstErr
}

// abcResult is one task outcome for the Alembic path. Each frame runs two
// tasks: the geometry sample and the texture write.
type abcResult struct {
	frame   int
	mesh    *Mesh
	geo     bool
	missing bool
}

// exportAlembic streams mesh samples into the archive in strict frame order
// while textures land in parallel. Completions arrive out of order; a drain
// buffer holds late frames until their turn.
func (e *Engine) exportAlembic(order Order, assetDir string, onTick TickFunc) error {
	if e.archiver == nil {
		return ErrNoArchiver
	}
	texDir := filepath.Join(assetDir, "texture")
	if err := os.MkdirAll(texDir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", texDir, err)
	}

	archive, err := e.archiver(order.Destination, order.fps())
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	total := order.frameCount()
	tasks := make([]*worker.Task[abcResult], 0, 2*total)
	for frame := order.Frames[0]; frame <= order.Frames[1]; frame++ {
		f := frame
		tasks = append(tasks, worker.Submit(e.pool, func(context.Context) (abcResult, error) {
			rec, err := fourdframe.Load(storage.FrameRecordRel(order.JobDir, f))
			if errors.Is(err, fs.ErrNotExist) {
				return abcResult{frame: f, geo: true, missing: true}, nil
			}
			if err != nil {
				return abcResult{frame: f, geo: true}, err
			}
			return abcResult{frame: f, geo: true, mesh: &Mesh{Positions: rec.Positions, UVs: rec.UVs}}, nil
		}))
		tasks = append(tasks, worker.Submit(e.pool, func(context.Context) (abcResult, error) {
			rec, err := fourdframe.Load(storage.FrameRecordRel(order.JobDir, f))
			if errors.Is(err, fs.ErrNotExist) {
				return abcResult{frame: f, missing: true}, nil
			}
			if err != nil {
				return abcResult{frame: f}, err
			}
			if err := os.WriteFile(filepath.Join(texDir, fmt.Sprintf("%04d.jpg", f)), rec.Texture, 0o640); err != nil {
				return abcResult{frame: f}, err
			}
			return abcResult{frame: f}, nil
		}))
	}

	drain := newOrderedDrain(order.Frames[0])
	remaining := make(map[int]int, total)
	done := 0
	var firstErr error
	for t := range worker.AsCompleted(tasks) {
		res, err := t.Value()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("frame %d: %w", res.frame, err)
		}
		if res.geo {
			if res.missing {
				e.log.Warn("frame record missing, omitted from archive", "frame", res.frame)
			}
			for _, mesh := range drain.add(res.frame, res.mesh) {
				if firstErr != nil {
					continue
				}
				if err := archive.WriteSample(mesh); err != nil {
					firstErr = fmt.Errorf("writing mesh sample: %w", err)
				}
			}
		}
		remaining[res.frame]++
		if remaining[res.frame] == 2 {
			done++
			onTick(done, total)
		}
	}

	if firstErr != nil {
		_ = archive.Close()
		if err := os.Remove(order.Destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
			e.log.Warn("removing partial archive", "path", order.Destination, "error", err)
		}
		return firstErr
	}
	if err := archive.Close(); err != nil {
		if rmErr := os.Remove(order.Destination); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			e.log.Warn("removing partial archive", "path", order.Destination, "error", rmErr)
		}
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

// writeGeoFile stores the record's geometry as a texture-less frame record.
func writeGeoFile(path string, rec *fourdframe.Record) error {
	return fourdframe.Save(path, &fourdframe.Record{
		Positions: rec.Positions,
		UVs:       rec.UVs,
	})
}

// assetFolder returns the sibling folder for a destination's loose outputs,
// named after the file stem with every non-alphanumeric rune flattened.
func assetFolder(destination string) string {
	stem := strings.TrimSuffix(filepath.Base(destination), filepath.Ext(destination))
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return filepath.Join(filepath.Dir(destination), b.String())
}

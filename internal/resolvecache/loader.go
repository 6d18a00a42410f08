package resolvecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io/fs"
	"log/slog"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/pkg/fourdframe"
	"github.com/fourdrec/fourdrec/pkg/fourdroll"
)

// ErrFrameMissing reports that a requested frame exists in neither the job's
// frame-record folder nor its packed roll. Normal while the farm is still
// resolving; the cache logs and moves on.
var ErrFrameMissing = errors.New("frame not resolved yet")

// Loader turns (job, frame) into a decoded artifact. The cache owns the
// compression; loaders only read and decode.
type Loader interface {
	Load(ctx context.Context, job *models.Job, frame, resolution int) (*Artifact, error)
}

// FileLoader reads frames from the job folder, preferring the packed roll
// when the per-frame records have been cleaned up after export. The roll
// handle is cached because whole-job caching would otherwise reopen it once
// per frame.
type FileLoader struct {
	lib *library.Library
	log *slog.Logger

	mu       sync.Mutex
	rollPath string
	roll     *fourdroll.Roll
}

var _ Loader = (*FileLoader)(nil)

// NewFileLoader builds a loader over the library's sandbox.
func NewFileLoader(lib *library.Library, logger *slog.Logger) *FileLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLoader{lib: lib, log: logger}
}

// Load reads the frame's geometry and texture and decodes the texture to
// RGBA, downscaling when the source is wider than the requested resolution.
func (l *FileLoader) Load(ctx context.Context, job *models.Job, frame, resolution int) (*Artifact, error) {
	jobRel, err := l.lib.JobPath(ctx, job)
	if err != nil {
		return nil, err
	}
	sandbox := l.lib.Sandbox()

	recPath, err := sandbox.ResolvePath(storage.FrameRecordRel(jobRel, frame))
	if err != nil {
		return nil, err
	}
	rec, err := fourdframe.Load(recPath)
	if errors.Is(err, fs.ErrNotExist) {
		rec, err = l.loadFromRoll(sandbox, jobRel, frame)
	}
	if err != nil {
		return nil, err
	}
	return decodeArtifact(rec, resolution)
}

// loadFromRoll serves a frame out of output/export.4dr. Farm frames are
// appended in order from zero, so the roll index is the farm frame itself.
func (l *FileLoader) loadFromRoll(sandbox *storage.Sandbox, jobRel string, frame int) (*fourdframe.Record, error) {
	path, err := sandbox.ResolvePath(storage.ExportRollRel(jobRel))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.roll == nil || l.rollPath != path {
		if l.roll != nil {
			_ = l.roll.Close()
			l.roll = nil
		}
		roll, err := fourdroll.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("frame %d: %w", frame, ErrFrameMissing)
		}
		if err != nil {
			return nil, err
		}
		l.roll = roll
		l.rollPath = path
	}

	if frame < 0 || frame >= l.roll.FrameCount() {
		return nil, fmt.Errorf("frame %d: %w", frame, ErrFrameMissing)
	}
	geo, jpegData, err := l.roll.ReadFrame(frame)
	if err != nil {
		return nil, err
	}
	rec, err := fourdframe.Decode(bytes.NewReader(geo))
	if err != nil {
		return nil, err
	}
	rec.Texture = jpegData
	return rec, nil
}

// Close releases the cached roll handle.
func (l *FileLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.roll != nil {
		err := l.roll.Close()
		l.roll = nil
		return err
	}
	return nil
}

// decodeArtifact decodes the record's texture and fits it to the requested
// resolution. Wider sources are downscaled; narrower ones downgrade the
// stored resolution to their native width rather than upscale.
func decodeArtifact(rec *fourdframe.Record, resolution int) (*Artifact, error) {
	img, err := jpeg.Decode(bytes.NewReader(rec.Texture))
	if err != nil {
		return nil, fmt.Errorf("decoding texture: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	stored := resolution
	switch {
	case resolution <= 0 || w == resolution:
		stored = w
	case w < resolution:
		stored = w
	default:
		dh := h * resolution / w
		if dh < 1 {
			dh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, resolution, dh))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
		img = dst
		w, h = resolution, dh
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	return &Artifact{
		Positions:  rec.Positions,
		UVs:        rec.UVs,
		Texture:    rgba.Pix,
		Width:      w,
		Height:     h,
		Resolution: stored,
	}, nil
}

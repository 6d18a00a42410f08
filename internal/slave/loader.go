package slave

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fourdrec/fourdrec/internal/observability"
)

// ShotLoader serves GET_SHOT_IMAGE requests against recorded shot files.
// It caches one open reader and only reopens when a request names a
// different file, so scrubbing through a shot does not thrash the handle.
type ShotLoader struct {
	drives []string
	log    *slog.Logger

	mu     sync.Mutex
	reader *ShotReader
}

// NewShotLoader builds a loader over the node's record drives.
func NewShotLoader(drives []string, logger *slog.Logger) *ShotLoader {
	return &ShotLoader{
		drives: drives,
		log:    observability.WithComponent(logger, "shot_loader"),
	}
}

// FrameJPEG decodes one frame of a recorded shot and encodes it at the
// requested quality and longest-edge scale. A frame absent from the
// container returns ErrFrameMissing.
func (l *ShotLoader) FrameJPEG(shotID, serial string, frame, quality, scaleLength int) ([]byte, error) {
	reader, err := l.acquire(shotID, serial)
	if err != nil {
		return nil, err
	}
	img, err := reader.Frame(frame)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(img, quality, scaleLength)
}

// acquire returns the cached reader, reopening when the request names a
// different shot file.
func (l *ShotLoader) acquire(shotID, serial string) (*ShotReader, error) {
	path, ok := FindShotFile(l.drives, shotID, serial)
	if !ok {
		return nil, fmt.Errorf("no shot file for shot %s camera %s", shotID, serial)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader != nil && l.reader.Path() == path {
		return l.reader, nil
	}
	if l.reader != nil {
		if err := l.reader.Close(); err != nil {
			l.log.Warn("closing cached shot file", "path", l.reader.Path(), "error", err)
		}
		l.reader = nil
	}
	reader, err := OpenShotFile(path)
	if err != nil {
		return nil, err
	}
	l.reader = reader
	l.log.Debug("shot file opened", "path", path)
	return reader, nil
}

// Close drops the cached handle.
func (l *ShotLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader == nil {
		return nil
	}
	err := l.reader.Close()
	l.reader = nil
	return err
}

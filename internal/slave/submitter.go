package slave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/internal/worker"
)

// bypassBand is the tolerated deviation from the expected photo size when
// deciding an existing file is a finished publish. Photos land in the
// shot-level folder, so a second job over the same shot skips most frames.
const bypassBand = 0.4

// Submitter publishes recorded frames as full-resolution JPEGs under the
// shot folder on the submit root. One Submit call serves one camera; a
// node runs them concurrently across its cameras.
type Submitter struct {
	sandbox *storage.Sandbox
	cfg     config.SubmitConfig
	pool    *worker.Pool
	send    func(bus.Message)
	log     *slog.Logger
}

// NewSubmitter builds a submitter over the submit-root sandbox.
func NewSubmitter(sandbox *storage.Sandbox, cfg config.SubmitConfig, pool *worker.Pool, send func(bus.Message), logger *slog.Logger) *Submitter {
	return &Submitter{
		sandbox: sandbox,
		cfg:     cfg,
		pool:    pool,
		send:    send,
		log:     observability.WithComponent(logger, "submitter"),
	}
}

// Submit publishes one camera's frames for a SUBMIT_SHOT order. Each frame
// emits a SUBMIT_REPORT with a strictly increasing done counter. Frames
// missing from the shot file are logged and skipped; frames already
// published within the size band are skipped without re-encoding.
func (s *Submitter) Submit(ctx context.Context, order bus.SubmitShot, serial string, reader *ShotReader) error {
	log := observability.WithCamera(observability.WithShot(s.log, order.ShotID), serial)
	total := order.EndFrame - order.StartFrame + 1
	if total <= 0 {
		return fmt.Errorf("submit range [%d,%d] is empty", order.StartFrame, order.EndFrame)
	}
	if err := s.sandbox.MkdirAll(storage.PhotosRel(order.ShotPath, serial)); err != nil {
		return err
	}

	// Encode ahead on the pool, report in frame order so done stays
	// strictly increasing per (camera, shot, job).
	type outcome struct {
		frame   int
		data    []byte // nil when skipped or missing
		skipped bool
		missing bool
	}
	tasks := make([]*worker.Task[outcome], 0, total)
	for frame := order.StartFrame; frame <= order.EndFrame; frame++ {
		frame := frame
		tasks = append(tasks, worker.Submit(s.pool, func(context.Context) (outcome, error) {
			rel := storage.PhotoRel(order.ShotPath, serial, frame)
			if s.alreadyPublished(rel) {
				return outcome{frame: frame, skipped: true}, nil
			}
			img, err := reader.Frame(frame)
			if err != nil {
				if errors.Is(err, ErrFrameMissing) {
					return outcome{frame: frame, missing: true}, nil
				}
				return outcome{}, err
			}
			data, err := EncodeJPEG(img, s.cfg.JpegQuality, 0)
			if err != nil {
				return outcome{}, fmt.Errorf("frame %d: %w", frame, err)
			}
			return outcome{frame: frame, data: data}, nil
		}))
	}

	done := 0
	var published, skipped, missing int
	for _, task := range tasks {
		out, err := task.Wait(ctx)
		if err != nil {
			return err
		}
		switch {
		case out.missing:
			log.Warn("frame absent from shot file, leaving gap", "frame", out.frame)
			missing++
		case out.skipped:
			skipped++
		default:
			rel := storage.PhotoRel(order.ShotPath, serial, out.frame)
			if err := s.sandbox.AtomicWrite(rel, out.data); err != nil {
				return fmt.Errorf("writing %s: %w", rel, err)
			}
			published++
		}

		done++
		report, err := bus.NewSubmitReport(bus.SubmitReport{
			CameraID: serial,
			ShotID:   order.ShotID,
			JobName:  order.JobName,
			Done:     done,
			Total:    total,
		})
		if err != nil {
			return err
		}
		s.send(report)
	}

	log.Info("submit finished",
		"job_name", order.JobName,
		"published", published,
		"skipped", skipped,
		"missing", missing,
		"is_cali", order.IsCali)
	return nil
}

// alreadyPublished reports whether the destination JPEG exists with a size
// inside the bypass band around the configured expected size.
func (s *Submitter) alreadyPublished(rel string) bool {
	expected := int64(s.cfg.BypassExistSize)
	if expected <= 0 {
		return false
	}
	info, err := s.sandbox.Stat(rel)
	if err != nil {
		return false
	}
	size := float64(info.Size())
	lo := float64(expected) * (1 - bypassBand)
	hi := float64(expected) * (1 + bypassBand)
	return size > lo && size < hi
}

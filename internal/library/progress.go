package library

import (
	"sort"

	"github.com/fourdrec/fourdrec/internal/models"
)

// shotProgress tracks which resolve-cache entries exist for a shot: per
// camera the full-resolution frames, and per frame the cameras that have
// produced a preview thumbnail.
type shotProgress struct {
	fullRes map[string]map[int]struct{}
	thumbs  map[int]map[string]struct{}
}

// jobProgress tracks which frames of a job are fully cached.
type jobProgress struct {
	cached map[int]struct{}
}

// ShotCacheState is a read-only snapshot of a shot's cache progress.
type ShotCacheState struct {
	// FullResFrames lists, per camera serial, the frames cached at full
	// resolution, in ascending order.
	FullResFrames map[string][]int
	// ThumbnailFractions maps a frame to the fraction of the working
	// camera set that has produced a thumbnail, in [0,1].
	ThumbnailFractions map[int]float64
}

// MarkShotFullRes records that a camera's frame is cached at full
// resolution, then emits PROGRESS for the shot.
func (l *Library) MarkShotFullRes(shot *models.Shot, cameraID string, frame int) {
	l.progMu.Lock()
	p := l.shotProgressLocked(shot.ID)
	frames, ok := p.fullRes[cameraID]
	if !ok {
		frames = make(map[int]struct{})
		p.fullRes[cameraID] = frames
	}
	frames[frame] = struct{}{}
	l.progMu.Unlock()

	l.emit(Event{Kind: EventProgress, Entity: shot})
}

// MarkShotThumbnail records that a camera produced a thumbnail for a frame,
// then emits PROGRESS for the shot. Fractions are computed at snapshot time
// against the working camera set the caller supplies.
func (l *Library) MarkShotThumbnail(shot *models.Shot, cameraID string, frame int) {
	l.progMu.Lock()
	p := l.shotProgressLocked(shot.ID)
	cams, ok := p.thumbs[frame]
	if !ok {
		cams = make(map[string]struct{})
		p.thumbs[frame] = cams
	}
	cams[cameraID] = struct{}{}
	l.progMu.Unlock()

	l.emit(Event{Kind: EventProgress, Entity: shot})
}

// ShotCache returns a snapshot of a shot's cache progress. workingCameras
// sizes the thumbnail fractions; zero or negative yields zero fractions.
func (l *Library) ShotCache(shotID models.ULID, workingCameras int) ShotCacheState {
	l.progMu.Lock()
	defer l.progMu.Unlock()

	state := ShotCacheState{
		FullResFrames:      make(map[string][]int),
		ThumbnailFractions: make(map[int]float64),
	}
	p, ok := l.shotProgress[shotID]
	if !ok {
		return state
	}
	for cameraID, frames := range p.fullRes {
		list := make([]int, 0, len(frames))
		for f := range frames {
			list = append(list, f)
		}
		sort.Ints(list)
		state.FullResFrames[cameraID] = list
	}
	for frame, cams := range p.thumbs {
		if workingCameras <= 0 {
			state.ThumbnailFractions[frame] = 0
			continue
		}
		fraction := float64(len(cams)) / float64(workingCameras)
		if fraction > 1 {
			fraction = 1
		}
		state.ThumbnailFractions[frame] = fraction
	}
	return state
}

// MarkJobFrameCached records that a job frame is fully cached, then emits
// PROGRESS for the job.
func (l *Library) MarkJobFrameCached(job *models.Job, frame int) {
	l.progMu.Lock()
	p := l.jobProgressLocked(job.ID)
	p.cached[frame] = struct{}{}
	l.progMu.Unlock()

	l.emit(Event{Kind: EventProgress, Entity: job})
}

// JobFrameCached reports whether a job frame is already cached.
func (l *Library) JobFrameCached(jobID models.ULID, frame int) bool {
	l.progMu.Lock()
	defer l.progMu.Unlock()
	p, ok := l.jobProgress[jobID]
	if !ok {
		return false
	}
	_, cached := p.cached[frame]
	return cached
}

// JobCachedFrames returns the cached frames of a job in ascending order.
func (l *Library) JobCachedFrames(jobID models.ULID) []int {
	l.progMu.Lock()
	defer l.progMu.Unlock()
	p, ok := l.jobProgress[jobID]
	if !ok {
		return nil
	}
	frames := make([]int, 0, len(p.cached))
	for f := range p.cached {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames
}

// ClearJobCacheProgress forgets a job's cached-frame set. The resolve cache
// calls this when the preferred resolution changes and entries are rebuilt.
func (l *Library) ClearJobCacheProgress(jobID models.ULID) {
	l.clearJobProgress(jobID)
}

// NotifyJobProgress emits PROGRESS for a job whose farm task states moved.
// The caller persists the job first; this only fans the change out.
func (l *Library) NotifyJobProgress(job *models.Job) {
	l.emit(Event{Kind: EventProgress, Entity: job})
}

func (l *Library) shotProgressLocked(id models.ULID) *shotProgress {
	p, ok := l.shotProgress[id]
	if !ok {
		p = &shotProgress{
			fullRes: make(map[string]map[int]struct{}),
			thumbs:  make(map[int]map[string]struct{}),
		}
		l.shotProgress[id] = p
	}
	return p
}

func (l *Library) jobProgressLocked(id models.ULID) *jobProgress {
	p, ok := l.jobProgress[id]
	if !ok {
		p = &jobProgress{cached: make(map[int]struct{})}
		l.jobProgress[id] = p
	}
	return p
}

func (l *Library) clearShotProgress(id models.ULID) {
	l.progMu.Lock()
	delete(l.shotProgress, id)
	l.progMu.Unlock()
}

func (l *Library) clearJobProgress(id models.ULID) {
	l.progMu.Lock()
	delete(l.jobProgress, id)
	l.progMu.Unlock()
}

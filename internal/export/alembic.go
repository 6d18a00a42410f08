package export

import "errors"

// ErrNoArchiver is returned for .abc destinations when no mesh archiver was
// wired in. The Alembic binding lives in the GUI layer; headless builds get
// this instead of a crash.
var ErrNoArchiver = errors.New("export: no mesh archiver wired in")

// Mesh is one frame's geometry sample for an animated archive.
type Mesh struct {
	Positions []float32
	UVs       []float32
}

// MeshArchiver receives mesh samples in strict ascending frame order and
// writes them into a time-sampled archive.
type MeshArchiver interface {
	WriteSample(m Mesh) error
	Close() error
}

// ArchiverFactory opens an archive at path with the given sample rate.
type ArchiverFactory func(path string, fps float64) (MeshArchiver, error)

// orderedDrain reorders out-of-order frame completions. Samples are held
// until every earlier frame has arrived; omitted frames advance the cursor
// without producing a sample.
type orderedDrain struct {
	next int
	held map[int]*Mesh
}

func newOrderedDrain(first int) *orderedDrain {
	return &orderedDrain{next: first, held: make(map[int]*Mesh)}
}

// add buffers one frame result (nil mesh = frame omitted) and returns the
// samples that are now safe to write, in frame order.
func (d *orderedDrain) add(frame int, m *Mesh) []Mesh {
	d.held[frame] = m
	var ready []Mesh
	for {
		m, ok := d.held[d.next]
		if !ok {
			return ready
		}
		delete(d.held, d.next)
		d.next++
		if m != nil {
			ready = append(ready, *m)
		}
	}
}

// holding reports how many results are still buffered.
func (d *orderedDrain) holding() int { return len(d.held) }

package library

import "fmt"

// EventKind classifies an entity change.
type EventKind int

const (
	// EventCreate is emitted after an entity and its folder exist.
	EventCreate EventKind = iota
	// EventModify is emitted after an entity update is persisted.
	EventModify
	// EventRemove is emitted after an entity record and folder are gone.
	// Children are removed, and their events emitted, before the parent's.
	EventRemove
	// EventProgress is emitted when cache or farm progress changes. The
	// entity itself may be unchanged in the store.
	EventProgress
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventRemove:
		return "REMOVE"
	case EventProgress:
		return "PROGRESS"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event describes one entity change. Entity holds the concrete pointer:
// *models.Project, *models.Shot, or *models.Job.
type Event struct {
	Kind   EventKind
	Entity any
}

// CallbackID identifies a registered event listener.
type CallbackID uint64

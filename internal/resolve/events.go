package resolve

// EventKind labels one runner callback. The names are stable: the GUI keys
// its log panes and toasts off them.
type EventKind string

const (
	// EventComplete fires once when a stage finishes cleanly.
	EventComplete EventKind = "COMPLETE"
	// EventFail fires once when a stage errors out, before Run returns.
	EventFail EventKind = "FAIL"
	// EventLogInfo carries an informational line.
	EventLogInfo EventKind = "LOG_INFO"
	// EventLogStdout carries raw engine output.
	EventLogStdout EventKind = "LOG_STDOUT"
	// EventLogWarning carries a warning line.
	EventLogWarning EventKind = "LOG_WARNING"
	// EventProgress carries a percentage.
	EventProgress EventKind = "PROGRESS"
	// EventNotification carries a user-facing milestone.
	EventNotification EventKind = "NOTIFICATION"
)

// Event is one runner or engine callback payload.
type Event struct {
	Kind    EventKind
	Message string
	// Percent accompanies PROGRESS, 0 to 100.
	Percent float64
	// Title accompanies NOTIFICATION.
	Title string
}

// Callback receives events. A nil callback drops them.
type Callback func(Event)

package ptid

// Event classifies what kind of wait() observation produced a StopInfo.
type Event int

const (
	EventNone Event = iota
	EventStop
	EventExit
	EventKill
)

// Reason further classifies an EventStop observation.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonWriteWatchpoint
	ReasonReadWatchpoint
	ReasonAccessWatchpoint
	ReasonBreakpoint
	ReasonTrace
	ReasonSignalStop
	ReasonTrap
	ReasonThreadSpawn
	ReasonThreadEntry
	ReasonThreadExit
)

func (r Reason) String() string {
	switch r {
	case ReasonWriteWatchpoint:
		return "write-watchpoint"
	case ReasonReadWatchpoint:
		return "read-watchpoint"
	case ReasonAccessWatchpoint:
		return "access-watchpoint"
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonTrace:
		return "trace"
	case ReasonSignalStop:
		return "signal-stop"
	case ReasonTrap:
		return "trap"
	case ReasonThreadSpawn:
		return "thread-spawn"
	case ReasonThreadEntry:
		return "thread-entry"
	case ReasonThreadExit:
		return "thread-exit"
	default:
		return "none"
	}
}

// StopInfo is set by the event-interpretation step of Process.Wait and
// Thread.UpdateStopInfo, and consumed by the protocol layer.
type StopInfo struct {
	Event  Event
	Reason Reason
	Status int
	Signal int

	// Tid is the thread id the wait() call returned the event for,
	// distinct from Core (the CPU core the thread last ran on, per
	// supplemented core() accessor in SPEC_FULL.md's
	// supplemented-features section).
	Tid  int
	Core int

	// NewTid is the tid of a just-cloned thread, valid only when Reason
	// is ReasonThreadSpawn (spec.md §4.5's S5 scenario): PTRACE_EVENT_CLONE
	// reports the event on the parent's tid (Tid above); getEventMessage
	// on that same tid yields the child's tid, stored here.
	NewTid int

	WatchpointAddress Address
	WatchpointIndex   int
}

// Clear resets a StopInfo to its "nothing has happened yet" value.
func (s *StopInfo) Clear() {
	*s = StopInfo{Core: -1, WatchpointIndex: -1}
}

// NewStopInfo returns a cleared StopInfo.
func NewStopInfo() StopInfo {
	var s StopInfo
	s.Clear()
	return s
}

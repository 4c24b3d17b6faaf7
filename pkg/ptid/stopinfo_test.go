package ptid

import "testing"

func TestNewStopInfoIsCleared(t *testing.T) {
	s := NewStopInfo()
	if s.Event != EventNone || s.Reason != ReasonNone {
		t.Errorf("NewStopInfo() = %+v, want zero Event/Reason", s)
	}
	if s.Core != -1 || s.WatchpointIndex != -1 {
		t.Errorf("NewStopInfo() = %+v, want Core=-1 WatchpointIndex=-1", s)
	}
}

func TestStopInfoClearResets(t *testing.T) {
	s := StopInfo{Event: EventStop, Reason: ReasonBreakpoint, Signal: 5, Tid: 42}
	s.Clear()
	if s.Event != EventNone || s.Reason != ReasonNone || s.Signal != 0 || s.Tid != 0 {
		t.Errorf("Clear() left stale fields: %+v", s)
	}
}

func TestReasonString(t *testing.T) {
	cases := map[Reason]string{
		ReasonBreakpoint:       "breakpoint",
		ReasonWriteWatchpoint:  "write-watchpoint",
		ReasonReadWatchpoint:   "read-watchpoint",
		ReasonAccessWatchpoint: "access-watchpoint",
		ReasonThreadSpawn:      "thread-spawn",
		ReasonNone:             "none",
	}
	for reason, want := range cases {
		if got := reason.String(); got != want {
			t.Errorf("Reason(%d).String() = %q, want %q", reason, got, want)
		}
	}
}

package poller

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	fsmutil "github.com/jkaberg/hass-byd-vehicle/internal/pkg/util/fsm"
)

// StreamKind is one of the two independent polling cadences.
type StreamKind string

const (
	StreamTelemetry StreamKind = "telemetry"
	StreamGPS       StreamKind = "gps"
)

// Streams lists every stream kind in dispatch order.
var Streams = []StreamKind{StreamTelemetry, StreamGPS}

// ParseStreamKind accepts "telemetry" or "gps".
func ParseStreamKind(s string) (StreamKind, bool) {
	switch StreamKind(s) {
	case StreamTelemetry:
		return StreamTelemetry, true
	case StreamGPS:
		return StreamGPS, true
	}
	return "", false
}

// Stream states.
const (
	StateIdle          = "idle"
	StateDue           = "due"
	StateFetching      = "fetching"
	StateUpdated       = "updated"
	StateSkippedCached = "skipped_cached"
	StateFetchFailed   = "fetch_failed"
)

const (
	// EventDue (Active) checks whether the stream is due.
	EventDue = "event_due"
	// EventFetch starts the provider call.
	EventFetch = "event_fetch"
	// EventUpdate folds a live payload in.
	EventUpdate = "event_update"
	// EventSkip records a payload served from cache.
	EventSkip = "event_skip"
	// EventFail records a failed fetch.
	EventFail = "event_fail"
	// EventSettle returns a terminal outcome to Idle.
	EventSettle = "event_settle"
)

// Outcome is the result of the last finished attempt.
type Outcome string

const (
	OutcomeNone          Outcome = ""
	OutcomeUpdated       Outcome = StateUpdated
	OutcomeSkippedCached Outcome = StateSkippedCached
	OutcomeFetchFailed   Outcome = StateFetchFailed
	OutcomeCommand       Outcome = "command"
)

// PollStream is the per-stream state of a Coordinator. Every field is
// guarded by the owning Coordinator's mutex, and events are only fired with
// that mutex held.
type PollStream struct {
	*fsm.FSM

	kind     StreamKind
	enabled  bool
	interval time.Duration

	lastAttemptAt time.Time
	lastSuccessAt time.Time
	updatedAt     time.Time
	lastOutcome   Outcome
	lastErr       error
	snapshot      Snapshot
}

func newPollStream(kind StreamKind, interval time.Duration) *PollStream {
	s := &PollStream{
		kind:     kind,
		enabled:  true,
		interval: interval,
	}

	events := fsm.Events{
		{Name: EventDue, Src: []string{StateIdle}, Dst: StateDue},
		{Name: EventFetch, Src: []string{StateDue}, Dst: StateFetching},
		{Name: EventUpdate, Src: []string{StateFetching}, Dst: StateUpdated},
		{Name: EventSkip, Src: []string{StateFetching}, Dst: StateSkippedCached},
		{Name: EventFail, Src: []string{StateFetching}, Dst: StateFetchFailed},
		{Name: EventSettle, Src: []string{StateUpdated, StateSkippedCached, StateFetchFailed}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		// Guards (before_...): decide if a transition is allowed
		"before_" + EventDue: fsmutil.Guard(s.guardDue),

		// Side-effects (enter_...): record timestamps upon entering a state
		"enter_" + StateFetching:      fsmutil.WrapEvent(s.actionEnterFetching),
		"enter_" + StateUpdated:       fsmutil.WrapEvent(s.actionEnterUpdated),
		"enter_" + StateSkippedCached: fsmutil.WrapEvent(s.actionEnterSkippedCached),
		"enter_" + StateFetchFailed:   fsmutil.WrapEvent(s.actionEnterFetchFailed),
	}

	s.FSM = fsm.NewFSM(StateIdle, events, callbacks)
	return s
}

// guardDue expects (now time.Time, forced bool). A forced refresh ignores the
// interval and the polling switch.
func (s *PollStream) guardDue(_ context.Context, e *fsm.Event) bool {
	now := e.Args[0].(time.Time)
	forced := e.Args[1].(bool)
	if forced {
		return true
	}
	return s.enabled && s.isDue(now)
}

// isDue reports now - last_attempt_at >= interval.
func (s *PollStream) isDue(now time.Time) bool {
	if s.lastAttemptAt.IsZero() {
		return true
	}
	return now.Sub(s.lastAttemptAt) >= s.interval
}

func (s *PollStream) actionEnterFetching(_ context.Context, e *fsm.Event) error {
	s.lastAttemptAt = e.Args[0].(time.Time)
	return nil
}

// actionEnterUpdated expects (at time.Time, merged Snapshot, changed bool).
func (s *PollStream) actionEnterUpdated(_ context.Context, e *fsm.Event) error {
	at := e.Args[0].(time.Time)
	s.snapshot = e.Args[1].(Snapshot)
	if changed := e.Args[2].(bool); changed && at.After(s.updatedAt) {
		s.updatedAt = at
	}
	s.lastSuccessAt = at
	s.lastOutcome = OutcomeUpdated
	s.lastErr = nil
	return nil
}

func (s *PollStream) actionEnterSkippedCached(_ context.Context, _ *fsm.Event) error {
	s.lastOutcome = OutcomeSkippedCached
	s.lastErr = nil
	return nil
}

// actionEnterFetchFailed expects (err error).
func (s *PollStream) actionEnterFetchFailed(_ context.Context, e *fsm.Event) error {
	if err, ok := e.Args[0].(error); ok {
		s.lastErr = err
	}
	s.lastOutcome = OutcomeFetchFailed
	return nil
}

func (s *PollStream) inFlight() bool {
	return s.Current() == StateFetching
}

// StreamStatus is an immutable view of one PollStream.
type StreamStatus struct {
	Stream        StreamKind    `json:"stream"`
	State         string        `json:"state"`
	Interval      time.Duration `json:"interval"`
	LastAttemptAt time.Time     `json:"last_attempt_at"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastOutcome   Outcome       `json:"last_outcome,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	Snapshot      Snapshot      `json:"snapshot"`
}

func (s *PollStream) status() StreamStatus {
	st := StreamStatus{
		Stream:        s.kind,
		State:         s.Current(),
		Interval:      s.interval,
		LastAttemptAt: s.lastAttemptAt,
		LastSuccessAt: s.lastSuccessAt,
		UpdatedAt:     s.updatedAt,
		LastOutcome:   s.lastOutcome,
		Snapshot:      s.snapshot.Clone(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

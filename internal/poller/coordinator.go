// Package poller schedules telemetry and GPS fetches for one vehicle and
// keeps canonical freshness timestamps that only advance on material change.
package poller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"k8s.io/utils/clock"

	"github.com/jkaberg/hass-byd-vehicle/internal/pkg/metrics"
	fsmutil "github.com/jkaberg/hass-byd-vehicle/internal/pkg/util/fsm"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

// ErrFetchInFlight is returned by Refresh while the stream is still fetching.
var ErrFetchInFlight = errors.New("fetch already in flight")

// Config of one Coordinator.
type Config struct {
	VIN      string
	Provider provider.Provider

	// Clock defaults to the real clock.
	Clock clock.WithTicker

	TelemetryInterval   time.Duration
	GPSInterval         time.Duration
	SmartGPS            bool
	GPSActiveInterval   time.Duration
	GPSInactiveInterval time.Duration

	// Tick is the period of the due-check loop in Run.
	Tick time.Duration

	// FetchTimeout bounds one provider fetch. Zero means no bound.
	FetchTimeout time.Duration

	// ClimateDuration is used by StartClimate when no duration is given.
	ClimateDuration int

	TelemetryFields MaterialSet
	GPSFields       MaterialSet
}

func (c *Config) complete() error {
	if c.VIN == "" {
		return errors.New("vin is required")
	}
	if c.Provider == nil {
		return errors.New("provider is required")
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.TelemetryInterval <= 0 || c.GPSInterval <= 0 {
		return fmt.Errorf("intervals must be positive (telemetry %s, gps %s)", c.TelemetryInterval, c.GPSInterval)
	}
	if c.SmartGPS && (c.GPSActiveInterval <= 0 || c.GPSInactiveInterval <= 0) {
		return errors.New("smart gps requires positive active and inactive intervals")
	}
	if c.Tick <= 0 {
		c.Tick = 5 * time.Second
	}
	if c.ClimateDuration <= 0 {
		c.ClimateDuration = 1
	}
	if c.TelemetryFields == nil {
		c.TelemetryFields = DefaultTelemetryFields
	}
	if c.GPSFields == nil {
		c.GPSFields = DefaultGPSFields
	}
	return nil
}

// Update is delivered to subscribers after an Updated or FetchFailed outcome
// and after every relayed command. Served-from-cache fetches are silent.
type Update struct {
	VIN     string
	Stream  StreamKind
	Outcome Outcome
	Changed bool
	Err     error
	Status  VehicleStatus

	// Command is set for OutcomeCommand.
	Command *provider.RemoteResult
}

// Coordinator owns the poll streams and canonical snapshots of one vehicle.
type Coordinator struct {
	cfg    Config
	logger log.Logger

	inflight conc.WaitGroup

	mu                    sync.Mutex
	streams               map[StreamKind]*PollStream
	pollingEnabled        bool
	lastTransmission      time.Time
	telemetryLastReceived time.Time
	unsupported           map[provider.CommandName]struct{}
	remoteResults         map[provider.CommandName]*provider.RemoteResult

	subMu       sync.RWMutex
	subscribers map[int]func(Update)
	nextSub     int
}

// NewCoordinator validates cfg and builds an idle coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.complete(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:            cfg,
		logger:         log.WithName("coordinator").WithValues("vin", log.VIN(cfg.VIN)),
		streams:        make(map[StreamKind]*PollStream, len(Streams)),
		pollingEnabled: true,
		unsupported:    make(map[provider.CommandName]struct{}),
		remoteResults:  make(map[provider.CommandName]*provider.RemoteResult),
		subscribers:    make(map[int]func(Update)),
	}
	c.streams[StreamTelemetry] = newPollStream(StreamTelemetry, cfg.TelemetryInterval)
	c.streams[StreamGPS] = newPollStream(StreamGPS, c.gpsIntervalLocked())
	return c, nil
}

// VIN of the coordinated vehicle.
func (c *Coordinator) VIN() string { return c.cfg.VIN }

type fetchJob struct {
	kind       StreamKind
	at         time.Time
	staleAfter time.Duration
}

// Tick runs the due-check for both streams and dispatches every due stream
// on its own goroutine. It returns the dispatched streams. A stream that is
// still fetching is left alone.
func (c *Coordinator) Tick(ctx context.Context) []StreamKind {
	jobs := c.dispatch(ctx, Streams, false)
	kinds := make([]StreamKind, 0, len(jobs))
	for _, job := range jobs {
		kinds = append(kinds, job.kind)
		c.inflight.Go(func() {
			c.fetch(ctx, job)
		})
	}
	return kinds
}

// Wait blocks until every dispatched fetch has finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Run ticks until ctx is done, then waits for in-flight fetches to finish on
// their own.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := c.cfg.Clock.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	c.logger.Info("Coordinator started", "tick", c.cfg.Tick, "smartGPS", c.cfg.SmartGPS)
	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.Wait()
			c.logger.Info("Coordinator stopped")
			return nil
		case <-ticker.C():
			c.Tick(ctx)
		}
	}
}

// Refresh fetches kind now regardless of its interval or the polling switch,
// and waits for the result. It always asks for live data.
func (c *Coordinator) Refresh(ctx context.Context, kind StreamKind) (Update, error) {
	if _, ok := c.streams[kind]; !ok {
		return Update{}, fmt.Errorf("unknown stream %q", kind)
	}
	jobs := c.dispatch(ctx, []StreamKind{kind}, true)
	if len(jobs) == 0 {
		return Update{}, ErrFetchInFlight
	}

	done := make(chan Update, 1)
	c.inflight.Go(func() {
		done <- c.fetch(ctx, jobs[0])
	})
	select {
	case u := <-done:
		return u, u.Err
	case <-ctx.Done():
		// The fetch still completes and is folded in.
		return Update{}, ctx.Err()
	}
}

// SetPollingEnabled pauses or resumes scheduled fetches. Cached data is kept
// and Refresh keeps working.
func (c *Coordinator) SetPollingEnabled(enabled bool) {
	c.mu.Lock()
	c.pollingEnabled = enabled
	for _, s := range c.streams {
		s.enabled = enabled
	}
	c.mu.Unlock()
	c.logger.Info("Polling toggled", "enabled", enabled)
}

// Subscribe registers fn for updates. fn must not block; it runs on the
// fetching goroutine. The returned func removes the subscription.
func (c *Coordinator) Subscribe(fn func(Update)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subscribers, id)
		c.subMu.Unlock()
	}
}

// dispatch moves every due stream in kinds to Fetching and returns the jobs.
func (c *Coordinator) dispatch(ctx context.Context, kinds []StreamKind, forced bool) []fetchJob {
	ctx = context.WithoutCancel(ctx)
	now := c.cfg.Clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var jobs []fetchJob
	for _, kind := range kinds {
		s := c.streams[kind]
		if kind == StreamGPS {
			// Smart GPS is re-evaluated at every due-check.
			s.interval = c.gpsIntervalLocked()
		}
		metrics.PollInterval.WithLabelValues(log.VIN(c.cfg.VIN), string(kind)).Set(s.interval.Seconds())

		if s.inFlight() {
			metrics.InflightSkipTotal.WithLabelValues(string(kind)).Inc()
			continue
		}
		if err := s.Event(ctx, EventDue, now, forced); err != nil {
			if !fsmutil.IsRejected(err) {
				c.logger.Error(err, "Due-check failed", "stream", kind)
			}
			continue
		}
		if err := s.Event(ctx, EventFetch, now); err != nil {
			c.logger.Error(err, "Failed to start fetch", "stream", kind)
			continue
		}
		job := fetchJob{kind: kind, at: now}
		if !forced {
			job.staleAfter = c.staleAfter(s.interval)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// staleAfter is the cache age a scheduled fetch accepts. It is one tick
// shorter than the interval so a payload from the previous attempt is never
// reused by the next due-check.
func (c *Coordinator) staleAfter(interval time.Duration) time.Duration {
	return interval - min(c.cfg.Tick, interval/2)
}

// fetch performs one provider call and folds the result into the stream.
// It completes even if the caller's context is cancelled.
func (c *Coordinator) fetch(ctx context.Context, job fetchJob) Update {
	ctx = context.WithoutCancel(ctx)
	fctx := ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}

	started := time.Now()
	var (
		telemetry *provider.Telemetry
		gps       *provider.GPS
		cached    bool
		err       error
	)
	switch job.kind {
	case StreamTelemetry:
		telemetry, cached, err = c.cfg.Provider.FetchTelemetry(fctx, c.cfg.VIN, job.staleAfter)
	case StreamGPS:
		gps, cached, err = c.cfg.Provider.FetchGPS(fctx, c.cfg.VIN, job.staleAfter)
	}
	metrics.FetchLatency.WithLabelValues(string(job.kind)).Observe(time.Since(started).Seconds())

	c.mu.Lock()
	s := c.streams[job.kind]
	u := Update{VIN: c.cfg.VIN, Stream: job.kind}

	switch {
	case err != nil:
		u.Outcome, u.Err = OutcomeFetchFailed, err
		c.fire(ctx, s, EventFail, err)
		c.logger.Warn("Fetch failed", "stream", job.kind, "errorType", provider.KindOf(err).String(), "error", err.Error())

	case cached:
		u.Outcome = OutcomeSkippedCached
		c.fire(ctx, s, EventSkip)
		c.logger.Debug("Served from cache", "stream", job.kind, "staleAfter", job.staleAfter)

	default:
		var (
			merged Snapshot
			derr   error
		)
		if job.kind == StreamTelemetry {
			u.Changed, merged, derr = DiffTelemetry(s.snapshot, telemetry, c.cfg.TelemetryFields)
			c.telemetryLastReceived = job.at
			c.noteTransmission(telemetry.TransmittedAt())
		} else {
			u.Changed, merged, derr = DiffGPS(s.snapshot, gps, c.cfg.GPSFields)
			c.noteTransmission(gps.TransmittedAt())
		}
		if derr != nil {
			c.logger.Warn("Payload not usable for freshness", "stream", job.kind, "error", derr.Error())
		}
		merged.ReceivedAt = job.at
		u.Outcome = OutcomeUpdated
		c.fire(ctx, s, EventUpdate, job.at, merged, u.Changed)
		if u.Changed {
			metrics.CanonicalAdvanceTotal.WithLabelValues(string(job.kind)).Inc()
		}
		c.logger.Debug("Fetched", "stream", job.kind, "changed", u.Changed)
	}
	c.fire(ctx, s, EventSettle)
	metrics.FetchTotal.WithLabelValues(string(job.kind), string(u.Outcome)).Inc()

	u.Status = c.statusLocked()
	c.mu.Unlock()

	if u.Outcome != OutcomeSkippedCached {
		c.publish(u)
	}
	return u
}

func (c *Coordinator) fire(ctx context.Context, s *PollStream, event string, args ...any) {
	if err := s.Event(ctx, event, args...); err != nil && !fsmutil.IsRejected(err) {
		c.logger.Error(err, "Stream transition failed", "stream", s.kind, "event", event)
	}
}

func (c *Coordinator) publish(u Update) {
	c.subMu.RLock()
	subs := make([]func(Update), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range subs {
		fn(u)
	}
}

func (c *Coordinator) noteTransmission(t time.Time) {
	if t.After(c.lastTransmission) {
		c.lastTransmission = t
	}
}

// gpsIntervalLocked returns the effective GPS interval.
func (c *Coordinator) gpsIntervalLocked() time.Duration {
	if !c.cfg.SmartGPS {
		return c.cfg.GPSInterval
	}
	if c.movingLocked() {
		return c.cfg.GPSActiveInterval
	}
	return c.cfg.GPSInactiveInterval
}

// movingLocked prefers the realtime speed of the latest telemetry and falls
// back to the GPS speed.
func (c *Coordinator) movingLocked() bool {
	if s, ok := c.streams[StreamTelemetry]; ok && s.snapshot.Telemetry != nil {
		if rt := s.snapshot.Telemetry.Realtime; rt != nil && rt.Speed != nil {
			return *rt.Speed > 0
		}
	}
	if s, ok := c.streams[StreamGPS]; ok && s.snapshot.GPS != nil && s.snapshot.GPS.Speed != nil {
		return *s.snapshot.GPS.Speed > 0
	}
	return false
}

// VehicleStatus is an immutable view of a Coordinator.
type VehicleStatus struct {
	VIN            string `json:"vin"`
	PollingEnabled bool   `json:"polling_enabled"`
	SmartGPS       bool   `json:"smart_gps"`
	Moving         bool   `json:"moving"`

	// CanonicalUpdatedAt and GPSUpdatedAt advance only on material change.
	CanonicalUpdatedAt time.Time `json:"canonical_updated_at"`
	GPSUpdatedAt       time.Time `json:"gps_updated_at"`

	// LastTransmission is the newest transport timestamp seen on any stream.
	LastTransmission      time.Time `json:"last_transmission"`
	TelemetryLastReceived time.Time `json:"telemetry_last_received"`

	Telemetry StreamStatus `json:"telemetry"`
	GPS       StreamStatus `json:"gps"`

	UnsupportedCommands []provider.CommandName                         `json:"unsupported_commands,omitempty"`
	LastRemoteResults   map[provider.CommandName]*provider.RemoteResult `json:"last_remote_results,omitempty"`
}

// Stream returns the status of kind.
func (v VehicleStatus) Stream(kind StreamKind) StreamStatus {
	if kind == StreamGPS {
		return v.GPS
	}
	return v.Telemetry
}

// Status returns a consistent copy of the coordinator state.
func (c *Coordinator) Status() VehicleStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() VehicleStatus {
	tel := c.streams[StreamTelemetry].status()
	gps := c.streams[StreamGPS].status()
	st := VehicleStatus{
		VIN:                   c.cfg.VIN,
		PollingEnabled:        c.pollingEnabled,
		SmartGPS:              c.cfg.SmartGPS,
		Moving:                c.movingLocked(),
		CanonicalUpdatedAt:    tel.UpdatedAt,
		GPSUpdatedAt:          gps.UpdatedAt,
		LastTransmission:      c.lastTransmission,
		TelemetryLastReceived: c.telemetryLastReceived,
		Telemetry:             tel,
		GPS:                   gps,
		LastRemoteResults:     maps.Clone(c.remoteResults),
	}
	for name := range c.unsupported {
		st.UnsupportedCommands = append(st.UnsupportedCommands, name)
	}
	slices.Sort(st.UnsupportedCommands)
	return st
}

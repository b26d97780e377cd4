package provider

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

var _ Source = (*Session)(nil)

// SessionOptions tune a Session.
type SessionOptions struct {
	// Serialize allows at most one call to the account at a time. The vendor
	// rejects concurrent operations on one account.
	Serialize bool

	// Limit and Burst pace calls. A zero Limit disables pacing.
	Limit rate.Limit
	Burst int

	// Dump receives a trace of every call. Nil disables tracing.
	Dump DumpWriter
}

// traceBuffer bounds the traces waiting for the dump writer. Further traces
// are dropped.
const traceBuffer = 64

type traceEntry struct {
	ctx      context.Context
	category string
	payload  map[string]any
}

// Session is the single shared handle on one vendor account. Streams of all
// coordinators and command callers go through it; it exposes no way to
// change account state.
type Session struct {
	src     Source
	sem     chan struct{}
	limiter *rate.Limiter
	dump    DumpWriter
	logger  log.Logger

	traces    chan traceEntry
	done      chan struct{}
	tracer    conc.WaitGroup
	closeOnce sync.Once
}

// NewSession wraps src.
func NewSession(src Source, opts SessionOptions) *Session {
	s := &Session{
		src:    src,
		dump:   opts.Dump,
		logger: log.WithName("session"),
	}
	if opts.Serialize {
		s.sem = make(chan struct{}, 1)
	}
	if opts.Limit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.Limit, burst)
	}
	if s.dump != nil {
		s.traces = make(chan traceEntry, traceBuffer)
		s.done = make(chan struct{})
		s.tracer.Go(s.writeTraces)
	}
	return s
}

// Close flushes the queued traces and stops the trace writer.
func (s *Session) Close() error {
	if s.done == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.tracer.Wait()
	})
	return nil
}

func (s *Session) Vehicles(ctx context.Context) ([]Vehicle, error) {
	var out []Vehicle
	err := s.call(ctx, "vehicles", "", func(ctx context.Context) (any, error) {
		v, err := s.src.Vehicles(ctx)
		out = v
		return v, err
	})
	return out, err
}

func (s *Session) Telemetry(ctx context.Context, vin string) (*Telemetry, error) {
	var out *Telemetry
	err := s.call(ctx, "telemetry", vin, func(ctx context.Context) (any, error) {
		t, err := s.src.Telemetry(ctx, vin)
		out = t
		return t, err
	})
	return out, err
}

func (s *Session) GPS(ctx context.Context, vin string) (*GPS, error) {
	var out *GPS
	err := s.call(ctx, "gps", vin, func(ctx context.Context) (any, error) {
		g, err := s.src.GPS(ctx, vin)
		out = g
		return g, err
	})
	return out, err
}

func (s *Session) Execute(ctx context.Context, vin string, cmd Command) (*RemoteResult, error) {
	var out *RemoteResult
	err := s.call(ctx, "command_"+string(cmd.Name), vin, func(ctx context.Context) (any, error) {
		r, err := s.src.Execute(ctx, vin, cmd)
		out = r
		return r, err
	})
	return out, err
}

// call runs fn under the session lock and pacing. A SessionExpired failure is
// retried once; the source is expected to re-establish its session. The trace
// is queued after the lock is released.
func (s *Session) call(ctx context.Context, endpoint, vin string, fn func(context.Context) (any, error)) error {
	if err := s.acquire(ctx); err != nil {
		return Wrap(KindTransport, endpoint, err)
	}

	started := time.Now()
	logger := s.logger.WithValues("endpoint", endpoint, "vin", log.VIN(vin))
	logger.Debug("API call started")

	resp, err := func() (any, error) {
		defer s.release()
		resp, err := fn(ctx)
		if KindOf(err) == KindSessionExpired {
			logger.Info("Session expired, retrying once")
			resp, err = fn(ctx)
		}
		return resp, err
	}()

	elapsed := time.Since(started)
	if err != nil {
		logger.Debug("API call failed", "durationMs", elapsed.Milliseconds(), "errorType", KindOf(err).String())
	} else {
		logger.Debug("API call succeeded", "durationMs", elapsed.Milliseconds())
	}
	s.trace(ctx, endpoint, vin, elapsed, resp, err)
	return err
}

func (s *Session) acquire(ctx context.Context) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if s.sem == nil {
		return nil
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *Session) trace(ctx context.Context, endpoint, vin string, elapsed time.Duration, resp any, err error) {
	if s.dump == nil {
		return
	}
	entry := map[string]any{
		"endpoint":    endpoint,
		"vin":         vin,
		"duration_ms": elapsed.Milliseconds(),
		"ok":          err == nil,
	}
	if err != nil {
		code, ep := Details(err)
		entry["error"] = err.Error()
		entry["error_type"] = KindOf(err).String()
		entry["error_code"] = code
		entry["error_endpoint"] = ep
	} else {
		entry["response"] = resp
	}
	select {
	case s.traces <- traceEntry{ctx: context.WithoutCancel(ctx), category: "transport_" + endpoint, payload: entry}:
	default:
		s.logger.Debug("Trace queue full, dropping trace", "endpoint", endpoint)
	}
}

// writeTraces hands queued traces to the dump writer outside the session lock.
func (s *Session) writeTraces() {
	for {
		select {
		case t := <-s.traces:
			s.dump.Write(t.ctx, t.category, t.payload)
		case <-s.done:
			for {
				select {
				case t := <-s.traces:
					s.dump.Write(t.ctx, t.category, t.payload)
				default:
					return
				}
			}
		}
	}
}

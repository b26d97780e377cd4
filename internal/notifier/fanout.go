package notifier

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/jkaberg/hass-byd-vehicle/internal/pkg/metrics"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

// DefaultBuffer is the queue length used when none is given.
const DefaultBuffer = 256

// Fanout decouples coordinators from sinks. Publish never blocks; updates
// that do not fit into the queue are dropped and counted. Each update is
// delivered to all sinks in parallel, and updates reach a given sink in the
// order they were published.
type Fanout struct {
	sinks  []Sink
	queue  chan poller.Update
	logger log.Logger
}

// NewFanout creates a fan-out over sinks with a queue of buffer updates.
func NewFanout(buffer int, sinks ...Sink) *Fanout {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Fanout{
		sinks:  sinks,
		queue:  make(chan poller.Update, buffer),
		logger: log.WithName("notifier"),
	}
}

// Publish enqueues u. It is safe to pass as a coordinator subscriber.
func (f *Fanout) Publish(u poller.Update) {
	if len(f.sinks) == 0 {
		return
	}
	select {
	case f.queue <- u:
	default:
		metrics.NotifyDroppedTotal.WithLabelValues("fanout").Inc()
		f.logger.Warn("Notification queue full, dropping update", "vin", log.VIN(u.VIN), "stream", u.Stream, "outcome", u.Outcome)
	}
}

// Run delivers queued updates until ctx is done, then flushes what is left.
func (f *Fanout) Run(ctx context.Context) error {
	for {
		select {
		case u := <-f.queue:
			f.deliver(ctx, u)
		case <-ctx.Done():
			f.drain()
			return nil
		}
	}
}

func (f *Fanout) drain() {
	ctx := context.Background()
	for {
		select {
		case u := <-f.queue:
			f.deliver(ctx, u)
		default:
			return
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, u poller.Update) {
	p := pool.New().WithMaxGoroutines(len(f.sinks))
	for _, s := range f.sinks {
		p.Go(func() {
			if err := s.Notify(ctx, u); err != nil {
				f.logger.Warn("Sink failed", "sink", s.Name(), "vin", log.VIN(u.VIN), "outcome", u.Outcome, "error", err.Error())
			}
		})
	}
	p.Wait()
}

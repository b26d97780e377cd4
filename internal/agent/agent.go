// Package agent wires the account session, one coordinator per vehicle,
// the notification sinks and the protocol servers into one process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/jkaberg/hass-byd-vehicle/internal/agent/server"
	"github.com/jkaberg/hass-byd-vehicle/internal/notifier"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	pkgmqtt "github.com/jkaberg/hass-byd-vehicle/pkg/mqtt"
	"github.com/jkaberg/hass-byd-vehicle/pkg/mqtt/topic"
)

// setupMaxElapsed bounds retries of vehicle discovery and first refresh.
const setupMaxElapsed = 10 * time.Minute

// Agent runs the coordinators of every vehicle on one account.
type Agent struct {
	cfg    *Config
	cache  *provider.Cached
	clock  clock.WithTicker
	logger log.Logger

	fanout  *notifier.Fanout
	closers []func() error
	mqtt    pkgmqtt.Client
	topics  *topic.TopicBuilder
	http    *server.HTTP
	grpc    *server.GRPC
	servers []server.Server

	// newBackOff is replaced in tests.
	newBackOff func() backoff.BackOff

	reloadMu sync.Mutex
	mu       sync.RWMutex
	vehicles []provider.Vehicle
	gen      *generation
	runCtx   context.Context
	ready    atomic.Bool
}

var _ server.Backend = (*Agent)(nil)

// generation is one set of coordinators built from one configuration.
type generation struct {
	coords map[string]*poller.Coordinator
	order  []string
	unsub  []func()
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func (g *generation) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	g.cancel = cancel
	for _, vin := range g.order {
		c := g.coords[vin]
		g.wg.Go(func() {
			_ = c.Run(ctx)
		})
	}
}

// stop cancels the coordinators and waits for their in-flight fetches,
// forced refreshes included.
func (g *generation) stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	for _, c := range g.coords {
		c.Wait()
	}
	for _, fn := range g.unsub {
		fn()
	}
}

// Run discovers the vehicles, performs the first refresh and then polls
// until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting bydpoller agent", "source", a.cfg.ProviderOptions.Source)
	defer a.close()

	vehicles, err := a.discover(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.vehicles = vehicles
	gen, err := a.build(a.cfg)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.gen = gen
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range a.servers {
		g.Go(func() error {
			return s.Start(gctx)
		})
	}
	g.Go(func() error {
		return a.fanout.Run(gctx)
	})
	if a.mqtt != nil {
		g.Go(func() error {
			return a.runCommandIntake(gctx)
		})
	}
	g.Go(func() error {
		if err := a.firstRefresh(gctx, gen); err != nil {
			return err
		}
		a.setReady(true)
		return a.runCoordinators(gctx)
	})

	err = g.Wait()
	a.logger.Info("bydpoller agent stopped")
	return err
}

func (a *Agent) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			a.logger.Warn("Failed to close resource", "error", err.Error())
		}
	}
}

func (a *Agent) backOff() backoff.BackOff {
	if a.newBackOff != nil {
		return a.newBackOff()
	}
	return backoff.NewExponentialBackOff()
}

// permanent stops setup retries for errors that retrying cannot fix.
func permanent(err error) error {
	if errors.Is(err, provider.ErrAuth) || errors.Is(err, provider.ErrPinLockout) {
		return backoff.Permanent(err)
	}
	return err
}

func (a *Agent) discover(ctx context.Context) ([]provider.Vehicle, error) {
	vehicles, err := backoff.Retry(ctx, func() ([]provider.Vehicle, error) {
		vs, err := a.cache.Vehicles(ctx)
		if err != nil {
			return nil, permanent(err)
		}
		if len(vs) == 0 {
			return nil, backoff.Permanent(errors.New("no vehicles found on the account"))
		}
		return vs, nil
	},
		backoff.WithBackOff(a.backOff()),
		backoff.WithMaxElapsedTime(setupMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("Vehicle discovery failed, retrying", "error", err.Error(), "retryIn", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("vehicle discovery failed: %w", err)
	}

	slices.SortFunc(vehicles, func(x, y provider.Vehicle) int {
		return strings.Compare(x.VIN, y.VIN)
	})
	for _, v := range vehicles {
		a.logger.Info("Discovered vehicle", "vin", log.VIN(v.VIN), "model", v.ModelName, "brand", v.BrandName)
	}
	return vehicles, nil
}

// build creates a coordinator per known vehicle. Callers hold a.mu.
func (a *Agent) build(cfg *Config) (*generation, error) {
	gen := &generation{coords: make(map[string]*poller.Coordinator, len(a.vehicles))}
	for _, v := range a.vehicles {
		c, err := poller.NewCoordinator(cfg.coordinatorConfig(v.VIN, a.cache, a.clock))
		if err != nil {
			return nil, fmt.Errorf("failed to build coordinator for %s: %w", log.VIN(v.VIN), err)
		}
		gen.coords[v.VIN] = c
		gen.order = append(gen.order, v.VIN)
		gen.unsub = append(gen.unsub, c.Subscribe(a.onUpdate))
	}
	return gen, nil
}

func (a *Agent) onUpdate(u poller.Update) {
	a.fanout.Publish(u)
	if a.grpc == nil || u.Stream == "" {
		return
	}
	switch u.Outcome {
	case poller.OutcomeUpdated:
		a.grpc.SetServing(u.VIN, u.Stream, true)
	case poller.OutcomeFetchFailed:
		a.grpc.SetServing(u.VIN, u.Stream, false)
	}
}

// firstRefresh fetches telemetry of every vehicle, retrying with backoff
// until it succeeds once. GPS failures are tolerated.
func (a *Agent) firstRefresh(ctx context.Context, gen *generation) error {
	for _, vin := range gen.order {
		c := gen.coords[vin]
		logger := a.logger.WithValues("vin", log.VIN(vin))

		_, err := backoff.Retry(ctx, func() (poller.Update, error) {
			u, err := c.Refresh(ctx, poller.StreamTelemetry)
			return u, permanent(err)
		},
			backoff.WithBackOff(a.backOff()),
			backoff.WithMaxElapsedTime(setupMaxElapsed),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warn("First refresh failed, retrying", "error", err.Error(), "retryIn", next)
			}),
		)
		if err != nil {
			return fmt.Errorf("first refresh of %s failed: %w", log.VIN(vin), err)
		}

		if _, err := c.Refresh(ctx, poller.StreamGPS); err != nil {
			logger.Warn("First GPS refresh failed", "error", err.Error())
		}
		logger.Info("First refresh complete")
	}
	return nil
}

func (a *Agent) runCoordinators(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	gen := a.gen
	a.mu.Unlock()

	gen.start(ctx)
	<-ctx.Done()

	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	a.mu.Lock()
	gen = a.gen
	a.runCtx = nil
	a.mu.Unlock()
	gen.stop()
	a.setReady(false)
	return nil
}

// Reload replaces every coordinator with one built from cfg. The polling
// switch of each vehicle is kept. Only poll and material settings, and the
// default climate duration, take effect without a restart. The new
// coordinators are exposed once the old ones are idle.
func (a *Agent) Reload(cfg *Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	a.mu.Lock()
	if a.gen == nil {
		a.applyReloadable(cfg)
		a.mu.Unlock()
		return nil
	}
	next, err := a.build(cfg)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	old := a.gen
	a.mu.Unlock()

	old.stop()

	a.mu.Lock()
	for vin, c := range next.coords {
		if prev, ok := old.coords[vin]; ok {
			c.SetPollingEnabled(prev.Status().PollingEnabled)
		}
		// Start from live data, not from what the previous generation cached.
		a.cache.Invalidate(vin)
	}
	a.gen = next
	a.applyReloadable(cfg)
	runCtx := a.runCtx
	a.mu.Unlock()

	if runCtx != nil {
		next.start(runCtx)
	}
	a.logger.Info("Coordinators reloaded", "vehicles", len(next.order), "interval", cfg.PollOptions.Interval, "smartGPS", cfg.PollOptions.SmartGPS)
	return nil
}

func (a *Agent) applyReloadable(cfg *Config) {
	a.cfg.PollOptions = cfg.PollOptions
	a.cfg.TelemetryFields = cfg.TelemetryFields
	a.cfg.GPSFields = cfg.GPSFields
	a.cfg.ProviderOptions.ClimateDuration = cfg.ProviderOptions.ClimateDuration
}

func (a *Agent) setReady(ready bool) {
	a.ready.Store(ready)
	if a.grpc != nil {
		a.grpc.SetReady(ready)
	}
}

// Ready reports whether the first refresh of every vehicle has completed.
func (a *Agent) Ready() bool { return a.ready.Load() }

// Vehicles returns the coordinators ordered by VIN.
func (a *Agent) Vehicles() []server.Vehicle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.gen == nil {
		return nil
	}
	out := make([]server.Vehicle, 0, len(a.gen.order))
	for _, vin := range a.gen.order {
		out = append(out, a.gen.coords[vin])
	}
	return out
}

func (a *Agent) Vehicle(vin string) (server.Vehicle, bool) {
	c, ok := a.coordinator(vin)
	if !ok {
		return nil, false
	}
	return c, true
}

func (a *Agent) coordinator(vin string) (*poller.Coordinator, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.gen == nil {
		return nil, false
	}
	c, ok := a.gen.coords[vin]
	return c, ok
}

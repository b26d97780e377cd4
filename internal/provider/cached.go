package provider

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

var _ Provider = (*Cached)(nil)

type cacheKey struct {
	vin    string
	stream string
}

type cacheEntry struct {
	telemetry *Telemetry
	gps       *GPS
	at        time.Time
}

// Cached implements Provider on top of a Source. A fetch whose previous live
// result is younger than staleAfter is answered from memory. A staleAfter of
// zero always calls the Source.
type Cached struct {
	src   Source
	clock clock.PassiveClock

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCached wraps src. A nil clk uses the real clock.
func NewCached(src Source, clk clock.PassiveClock) *Cached {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Cached{
		src:     src,
		clock:   clk,
		entries: make(map[cacheKey]cacheEntry),
	}
}

func (c *Cached) Vehicles(ctx context.Context) ([]Vehicle, error) {
	return c.src.Vehicles(ctx)
}

func (c *Cached) FetchTelemetry(ctx context.Context, vin string, staleAfter time.Duration) (*Telemetry, bool, error) {
	key := cacheKey{vin: vin, stream: "telemetry"}
	if e, ok := c.fresh(key, staleAfter); ok && e.telemetry != nil {
		return e.telemetry, true, nil
	}

	started := c.clock.Now()
	t, err := c.src.Telemetry(ctx, vin)
	if err != nil {
		return nil, false, err
	}
	c.store(key, cacheEntry{telemetry: t, at: started})
	return t, false, nil
}

func (c *Cached) FetchGPS(ctx context.Context, vin string, staleAfter time.Duration) (*GPS, bool, error) {
	key := cacheKey{vin: vin, stream: "gps"}
	if e, ok := c.fresh(key, staleAfter); ok && e.gps != nil {
		return e.gps, true, nil
	}

	started := c.clock.Now()
	g, err := c.src.GPS(ctx, vin)
	if err != nil {
		return nil, false, err
	}
	c.store(key, cacheEntry{gps: g, at: started})
	return g, false, nil
}

// Execute is never cached.
func (c *Cached) Execute(ctx context.Context, vin string, cmd Command) (*RemoteResult, error) {
	return c.src.Execute(ctx, vin, cmd)
}

// Invalidate drops cached payloads for vin, e.g. after a command changed the
// vehicle state.
func (c *Cached) Invalidate(vin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{vin: vin, stream: "telemetry"})
	delete(c.entries, cacheKey{vin: vin, stream: "gps"})
}

func (c *Cached) fresh(key cacheKey, staleAfter time.Duration) (cacheEntry, bool) {
	if staleAfter <= 0 {
		return cacheEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.clock.Since(e.at) >= staleAfter {
		return cacheEntry{}, false
	}
	return e, true
}

// store keeps e stamped with the time the live call started, so its age
// matches the time since the caller's last attempt.
func (c *Cached) store(key cacheKey, e cacheEntry) {
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

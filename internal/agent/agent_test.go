package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/utils/clock"

	"github.com/jkaberg/hass-byd-vehicle/internal/agent/server"
	"github.com/jkaberg/hass-byd-vehicle/internal/notifier"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider/sim"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	pkgmqtt "github.com/jkaberg/hass-byd-vehicle/pkg/mqtt"
	"github.com/jkaberg/hass-byd-vehicle/pkg/mqtt/topic"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

const simVIN = "LSIMBYD0000000001"

func testConfig() *Config {
	cfg := &Config{
		PollOptions:     options.NewPollOptions(),
		ProviderOptions: options.NewProviderOptions(),
		DebugOptions:    options.NewDebugOptions(),
		HttpOptions:     options.NewHttpOptions(),
		GrpcOptions:     options.NewGrpcOptions(),
		MqttOptions:     options.NewMqttOptions(),
		RedisOptions:    options.NewRedisOptions(),
		S3Options:       options.NewS3Options(),
	}
	cfg.HttpOptions.Addr = "127.0.0.1:0"
	cfg.GrpcOptions.Addr = "127.0.0.1:0"
	return cfg
}

func newTestAgent(src provider.Source) *Agent {
	return &Agent{
		cfg:        testConfig(),
		cache:      provider.NewCached(src, clock.RealClock{}),
		clock:      clock.RealClock{},
		logger:     log.WithName("agent"),
		fanout:     notifier.NewFanout(0),
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentRunWithSimulator(t *testing.T) {
	a, err := testConfig().NewAgent()
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, a.Ready)

	vehicles := a.Vehicles()
	if len(vehicles) != 1 || vehicles[0].VIN() != simVIN {
		t.Fatalf("vehicles = %v", vehicles)
	}
	if st := vehicles[0].Status(); st.CanonicalUpdatedAt.IsZero() || st.Telemetry.LastOutcome != poller.OutcomeUpdated {
		t.Fatalf("first refresh not applied: %+v", st.Telemetry)
	}

	resp, err := a.grpc.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: server.HealthService(simVIN, poller.StreamTelemetry)})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health = %v, %v", resp, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}
	if a.Ready() {
		t.Fatal("agent still ready after stop")
	}
}

type flakySource struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakySource) Vehicles(context.Context) ([]provider.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []provider.Vehicle{{VIN: "VIN2"}, {VIN: "VIN1"}}, nil
}

func (f *flakySource) Telemetry(context.Context, string) (*provider.Telemetry, error) {
	return nil, provider.NewError(provider.KindTransport, "/realtime", "", "unreachable")
}

func (f *flakySource) GPS(context.Context, string) (*provider.GPS, error) {
	return nil, provider.NewError(provider.KindTransport, "/gps", "", "unreachable")
}

func (f *flakySource) Execute(context.Context, string, provider.Command) (*provider.RemoteResult, error) {
	return nil, errors.New("not implemented")
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		src       *flakySource
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "transport errors are retried",
			src:       &flakySource{failures: 2, err: provider.NewError(provider.KindTransport, "/vehicles", "", "timeout")},
			wantCalls: 3,
		},
		{
			name:      "auth errors are permanent",
			src:       &flakySource{failures: 5, err: provider.NewError(provider.KindAuth, "/vehicles", "1003", "bad token")},
			wantErr:   true,
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(tt.src)
			vehicles, err := a.discover(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.src.calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", tt.src.calls, tt.wantCalls)
			}
			if !tt.wantErr && (len(vehicles) != 2 || vehicles[0].VIN != "VIN1") {
				t.Fatalf("vehicles = %v", vehicles)
			}
		})
	}
}

func TestFirstRefreshStopsWithContext(t *testing.T) {
	a := newTestAgent(&flakySource{})
	a.vehicles = []provider.Vehicle{{VIN: "VIN1"}}
	gen, err := a.build(a.cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	a.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(20 * time.Millisecond) }
	if err := a.firstRefresh(ctx, gen); err == nil {
		t.Fatal("first refresh must fail while telemetry is unreachable")
	}
	if st := gen.coords["VIN1"].Status(); st.Telemetry.LastOutcome != poller.OutcomeFetchFailed {
		t.Fatalf("outcome = %s", st.Telemetry.LastOutcome)
	}
}

func TestReloadKeepsPollingSwitch(t *testing.T) {
	a := newTestAgent(sim.NewFleet(sim.Options{Vehicles: 2}))
	vehicles, err := a.discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	a.vehicles = vehicles
	if a.gen, err = a.build(a.cfg); err != nil {
		t.Fatal(err)
	}
	c, _ := a.coordinator(simVIN)
	c.SetPollingEnabled(false)

	next := testConfig()
	next.PollOptions.Interval = 10 * time.Minute
	next.PollOptions.SmartGPS = true
	if err := a.Reload(next); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	reloaded, _ := a.coordinator(simVIN)
	if reloaded == c {
		t.Fatal("coordinator was not rebuilt")
	}
	st := reloaded.Status()
	if st.PollingEnabled || !st.SmartGPS || st.Telemetry.Interval != 10*time.Minute {
		t.Fatalf("reloaded status = %+v", st)
	}
	if a.cfg.PollOptions.Interval != 10*time.Minute {
		t.Fatal("reloaded options not kept")
	}
	if len(a.Vehicles()) != 2 {
		t.Fatal("vehicles lost on reload")
	}
}

// gatedSource holds the first telemetry call until release is closed.
type gatedSource struct {
	provider.Source
	gated   atomic.Bool
	started chan struct{}
	release chan struct{}
}

func (g *gatedSource) Telemetry(ctx context.Context, vin string) (*provider.Telemetry, error) {
	if g.gated.CompareAndSwap(false, true) {
		close(g.started)
		<-g.release
	}
	return g.Source.Telemetry(ctx, vin)
}

func TestReloadWaitsForOldFetches(t *testing.T) {
	src := &gatedSource{
		Source:  sim.NewFleet(sim.Options{Vehicles: 1}),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	a := newTestAgent(src)
	vehicles, err := a.discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	a.vehicles = vehicles
	if a.gen, err = a.build(a.cfg); err != nil {
		t.Fatal(err)
	}
	old, _ := a.coordinator(simVIN)

	refreshed := make(chan error, 1)
	go func() {
		_, err := old.Refresh(context.Background(), poller.StreamTelemetry)
		refreshed <- err
	}()
	<-src.started

	reloaded := make(chan error, 1)
	go func() { reloaded <- a.Reload(testConfig()) }()

	select {
	case err := <-reloaded:
		t.Fatalf("Reload returned while the old fetch was running: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if c, _ := a.coordinator(simVIN); c != old {
		t.Fatal("new coordinator exposed while the old one was fetching")
	}

	close(src.release)
	if err := <-refreshed; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := <-reloaded; err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if c, _ := a.coordinator(simVIN); c == old {
		t.Fatal("coordinator was not replaced")
	}
}

func TestUpdatesDriveStreamHealth(t *testing.T) {
	a := newTestAgent(sim.NewFleet(sim.Options{Vehicles: 1}))
	a.grpc = server.NewGRPC(options.NewGrpcOptions())
	ctx := context.Background()
	check := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		resp, err := a.grpc.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: server.HealthService(simVIN, poller.StreamGPS)})
		if err != nil || resp.GetStatus() != want {
			t.Fatalf("status = %v, %v; want %v", resp.GetStatus(), err, want)
		}
	}

	a.onUpdate(poller.Update{VIN: simVIN, Stream: poller.StreamGPS, Outcome: poller.OutcomeFetchFailed, Err: errors.New("timeout")})
	check(healthpb.HealthCheckResponse_NOT_SERVING)

	a.onUpdate(poller.Update{VIN: simVIN, Stream: poller.StreamGPS, Outcome: poller.OutcomeUpdated})
	check(healthpb.HealthCheckResponse_SERVING)
}

type fakeMQTT struct {
	mu        sync.Mutex
	published map[string][][]byte
}

var _ pkgmqtt.Client = (*fakeMQTT)(nil)

func (f *fakeMQTT) Start(context.Context) error { return nil }
func (f *fakeMQTT) Disconnect(context.Context) {}
func (f *fakeMQTT) Publish(_ context.Context, t string, _ int, _ bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[t] = append(f.published[t], payload)
	return nil
}
func (f *fakeMQTT) Subscribe(context.Context, string, int, pkgmqtt.Handler) error { return nil }
func (f *fakeMQTT) AwaitConnection(context.Context) error { return nil }
func (f *fakeMQTT) IsConnected() bool { return true }

func TestHandleCommand(t *testing.T) {
	fleet := sim.NewFleet(sim.Options{Vehicles: 1})
	a := newTestAgent(fleet)
	mq := &fakeMQTT{}
	a.mqtt, a.topics = mq, topic.NewTopicBuilder("byd/v1")
	a.vehicles = []provider.Vehicle{{VIN: simVIN}}
	var err error
	if a.gen, err = a.build(a.cfg); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	resultTopic := a.topics.CommandResult(simVIN)

	a.handleCommand(ctx, a.topics.Command(simVIN), []byte(`{"command":"lock","request_id":"r1"}`))
	c, _ := a.coordinator(simVIN)
	if res, ok := c.LastRemoteResult(provider.CommandLock); !ok || !res.Success || res.RequestID != "r1" {
		t.Fatalf("lock result = %+v", res)
	}

	// The first honk reaches the vehicle and is reported unsupported; the
	// second is rejected locally and answered on the result topic.
	a.handleCommand(ctx, a.topics.Command(simVIN), []byte(`{"command":"honk_horn"}`))
	a.handleCommand(ctx, a.topics.Command(simVIN), []byte(`{"command":"honk_horn","request_id":"r3"}`))
	if got := len(mq.published[resultTopic]); got != 1 {
		t.Fatalf("published %d results", got)
	}
	var res provider.RemoteResult
	if err := json.Unmarshal(mq.published[resultTopic][0], &res); err != nil {
		t.Fatal(err)
	}
	if res.Success || res.ErrorType != "unsupported" || res.RequestID != "r3" {
		t.Fatalf("rejected result = %+v", res)
	}

	a.handleCommand(ctx, a.topics.Command("OTHERVIN"), []byte(`{"command":"lock"}`))
	if len(mq.published[a.topics.CommandResult("OTHERVIN")]) != 1 {
		t.Fatal("unknown vehicle must be answered")
	}

	a.handleCommand(ctx, a.topics.Command(simVIN), []byte(`not json`))
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

type fakeVehicle struct {
	vin        string
	polling    bool
	refreshed  []poller.StreamKind
	refreshErr error
	executed   []provider.Command
	execRes    *provider.RemoteResult
	execErr    error
	results    map[provider.CommandName]*provider.RemoteResult
}

func (f *fakeVehicle) VIN() string { return f.vin }

func (f *fakeVehicle) Status() poller.VehicleStatus {
	return poller.VehicleStatus{VIN: f.vin, PollingEnabled: f.polling}
}

func (f *fakeVehicle) Refresh(_ context.Context, kind poller.StreamKind) (poller.Update, error) {
	f.refreshed = append(f.refreshed, kind)
	return poller.Update{VIN: f.vin, Stream: kind}, f.refreshErr
}

func (f *fakeVehicle) SetPollingEnabled(enabled bool) { f.polling = enabled }

func (f *fakeVehicle) Execute(_ context.Context, cmd provider.Command) (*provider.RemoteResult, error) {
	f.executed = append(f.executed, cmd)
	return f.execRes, f.execErr
}

func (f *fakeVehicle) LastRemoteResult(name provider.CommandName) (*provider.RemoteResult, bool) {
	r, ok := f.results[name]
	return r, ok
}

type fakeBackend struct {
	vehicles []*fakeVehicle
	ready    bool
}

func (b *fakeBackend) Vehicles() []Vehicle {
	out := make([]Vehicle, 0, len(b.vehicles))
	for _, v := range b.vehicles {
		out = append(out, v)
	}
	return out
}

func (b *fakeBackend) Vehicle(vin string) (Vehicle, bool) {
	for _, v := range b.vehicles {
		if v.vin == vin {
			return v, true
		}
	}
	return nil, false
}

func (b *fakeBackend) Ready() bool { return b.ready }

func newTestHTTP(vehicles ...*fakeVehicle) (*fakeBackend, http.Handler) {
	b := &fakeBackend{vehicles: vehicles, ready: true}
	return b, NewHTTP(options.NewHttpOptions(), b).Handler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPProbes(t *testing.T) {
	b, h := newTestHTTP()
	if rec := do(h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	b.ready = false
	if rec := do(h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestHTTPVehicles(t *testing.T) {
	v := &fakeVehicle{vin: "VIN1", polling: true}
	_, h := newTestHTTP(v)

	rec := do(h, http.MethodGet, "/api/v1/vehicles", "")
	var list []poller.VehicleStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 || list[0].VIN != "VIN1" {
		t.Fatalf("list = %s (%v)", rec.Body, err)
	}
	if rec := do(h, http.MethodGet, "/api/v1/vehicles/NOPE", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown vin = %d", rec.Code)
	}

	rec = do(h, http.MethodPut, "/api/v1/vehicles/VIN1/polling", `{"enabled": false}`)
	if rec.Code != http.StatusOK || v.polling {
		t.Fatalf("polling = %d, enabled=%v", rec.Code, v.polling)
	}
	if rec := do(h, http.MethodPut, "/api/v1/vehicles/VIN1/polling", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled = %d", rec.Code)
	}
}

func TestHTTPRefresh(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		err      error
		wantCode int
		want     []poller.StreamKind
	}{
		{name: "both streams", wantCode: http.StatusOK, want: poller.Streams},
		{name: "gps only", query: "?stream=gps", wantCode: http.StatusOK, want: []poller.StreamKind{poller.StreamGPS}},
		{name: "unknown stream", query: "?stream=odometer", wantCode: http.StatusBadRequest},
		{name: "in flight", query: "?stream=telemetry", err: poller.ErrFetchInFlight, wantCode: http.StatusConflict, want: []poller.StreamKind{poller.StreamTelemetry}},
		{
			name:     "rate limited",
			query:    "?stream=telemetry",
			err:      provider.NewError(provider.KindRateLimited, "/realtime", "6024", "slow down"),
			wantCode: http.StatusTooManyRequests,
			want:     []poller.StreamKind{poller.StreamTelemetry},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVehicle{vin: "VIN1", refreshErr: tt.err}
			_, h := newTestHTTP(v)
			rec := do(h, http.MethodPost, "/api/v1/vehicles/VIN1/refresh"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
			}
			if len(v.refreshed) != len(tt.want) {
				t.Fatalf("refreshed = %v", v.refreshed)
			}
		})
	}
}

func TestHTTPCommands(t *testing.T) {
	v := &fakeVehicle{
		vin:     "VIN1",
		execRes: &provider.RemoteResult{Command: provider.CommandStartClimate, Success: true},
		results: map[provider.CommandName]*provider.RemoteResult{
			provider.CommandLock: {Command: provider.CommandLock, Success: true, At: time.Unix(0, 0)},
		},
	}
	_, h := newTestHTTP(v)

	rec := do(h, http.MethodPost, "/api/v1/vehicles/VIN1/commands/start_climate", `{"request_id":"r1","params":{"duration_minutes":10}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d %s", rec.Code, rec.Body)
	}
	cmd := v.executed[0]
	if cmd.Name != provider.CommandStartClimate || cmd.RequestID != "r1" || cmd.Params["duration_minutes"] != float64(10) {
		t.Fatalf("command = %+v", cmd)
	}

	if rec := do(h, http.MethodPost, "/api/v1/vehicles/VIN1/commands/flash_lights", ""); rec.Code != http.StatusOK {
		t.Fatalf("empty body = %d", rec.Code)
	}

	v.execRes = &provider.RemoteResult{Command: provider.CommandHonkHorn, ErrorType: "unsupported"}
	v.execErr = provider.NewError(provider.KindUnsupported, "/commands/honk_horn", "1001", "unsupported")
	if rec := do(h, http.MethodPost, "/api/v1/vehicles/VIN1/commands/honk_horn", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("unsupported = %d", rec.Code)
	}

	v.execRes, v.execErr = nil, poller.ErrUnknownCommand
	if rec := do(h, http.MethodPost, "/api/v1/vehicles/VIN1/commands/open_trunk", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown command = %d", rec.Code)
	}

	if rec := do(h, http.MethodGet, "/api/v1/vehicles/VIN1/commands/lock", ""); rec.Code != http.StatusOK {
		t.Fatalf("last result = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/v1/vehicles/VIN1/commands/unlock", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing result = %d", rec.Code)
	}
}

func TestHTTPCommandsDisabled(t *testing.T) {
	v := &fakeVehicle{vin: "VIN1", execRes: &provider.RemoteResult{Success: true}}
	opts := options.NewHttpOptions()
	opts.EnableCommands = false
	h := NewHTTP(opts, &fakeBackend{vehicles: []*fakeVehicle{v}, ready: true}).Handler()

	if rec := do(h, http.MethodPost, "/api/v1/vehicles/VIN1/commands/lock", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("execute with commands disabled = %d", rec.Code)
	}
	if len(v.executed) != 0 {
		t.Fatalf("command reached the vehicle: %+v", v.executed)
	}
}

func TestGRPCHealth(t *testing.T) {
	s := NewGRPC(options.NewGrpcOptions())
	s.SetServing("VIN1", poller.StreamGPS, false)
	s.SetServing("VIN1", poller.StreamTelemetry, true)

	ctx := context.Background()
	resp, err := s.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: "byd.VIN1.telemetry"})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("telemetry = %v, %v", resp, err)
	}
	resp, err = s.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: "byd.VIN1.gps"})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("gps = %v, %v", resp, err)
	}
	if _, err := s.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: "byd.VIN2.gps"}); err == nil {
		t.Fatal("unknown service must fail")
	}
}

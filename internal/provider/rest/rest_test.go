package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

const testVIN = "LGXCE6CB0P0012345"

func newTestClient(t *testing.T, routes map[string]string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		key := r.Method + " " + r.URL.Path
		body, ok := routes[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if body == "429" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api", Token: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestTelemetryAssemblesSections(t *testing.T) {
	base := "GET /api/vehicles/" + testVIN + "/"
	c := newTestClient(t, map[string]string{
		base + "realtime": `{"code":"0","data":{"vehicleState":"parked","lockState":2,"elecPercent":81,"speed":0,"time":1735689600,"requestSerial":"abc"}}`,
		base + "charging": `{"code":"0","data":{"chargingState":"charging","connectState":1,"power":"7.4","soc":81,"updateTime":1735689700}}`,
		base + "hvac":     `{"code":"1001","message":"not supported"}`,
		base + "energy":   `{"code":"0","data":{"totalEnergy":"17.2","recent50kmEnergy":"16.9"}}`,
	})

	tel, err := c.Telemetry(context.Background(), testVIN)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.Realtime == nil || !tel.Realtime.Locked || tel.Realtime.SOC != 81 {
		t.Fatalf("realtime = %+v", tel.Realtime)
	}
	if tel.Charging == nil || !tel.Charging.Power.Equal(decimal.RequireFromString("7.4")) || !tel.Charging.Connected {
		t.Fatalf("charging = %+v", tel.Charging)
	}
	if tel.HVAC != nil {
		t.Fatalf("unsupported hvac section must be absent, got %+v", tel.HVAC)
	}
	if tel.Energy == nil || tel.Energy.Total.String() != "17.2" {
		t.Fatalf("energy = %+v", tel.Energy)
	}
	if tel.RequestSerial != "abc" {
		t.Fatalf("request serial = %q", tel.RequestSerial)
	}
	if got := tel.TransmittedAt().Unix(); got != 1735689700 {
		t.Fatalf("TransmittedAt = %d", got)
	}
}

func TestTelemetrySectionAuthErrorsFail(t *testing.T) {
	base := "GET /api/vehicles/" + testVIN + "/"
	realtime := `{"code":"0","data":{"vehicleState":"parked","lockState":2,"time":1735689600}}`
	tests := []struct {
		name   string
		routes map[string]string
		want   error
	}{
		{
			name: "energy session expired",
			routes: map[string]string{
				base + "realtime": realtime,
				base + "energy":   `{"code":"1002","message":"session expired"}`,
			},
			want: provider.ErrSessionExpired,
		},
		{
			name: "hvac auth failed",
			routes: map[string]string{
				base + "realtime": realtime,
				base + "energy":   `{"code":"0","data":{"totalEnergy":"1"}}`,
				base + "hvac":     `{"code":"1003","message":"bad token"}`,
			},
			want: provider.ErrAuth,
		},
		{
			name: "charging session expired",
			routes: map[string]string{
				base + "realtime": realtime,
				base + "energy":   `{"code":"0","data":{"totalEnergy":"1"}}`,
				base + "hvac":     `{"code":"0","data":{"acSwitch":0}}`,
				base + "charging": `{"code":"1002"}`,
			},
			want: provider.ErrSessionExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.routes)
			if _, err := c.Telemetry(context.Background(), testVIN); !errors.Is(err, tt.want) {
				t.Fatalf("Telemetry error = %v, want %v", err, tt.want)
			}
		})
	}
}

// sectionServer serves telemetry sections and counts the calls per section.
type sectionServer struct {
	mu       sync.Mutex
	realtime string
	calls    map[string]int
}

func (s *sectionServer) setRealtime(body string) {
	s.mu.Lock()
	s.realtime = body
	s.mu.Unlock()
}

func (s *sectionServer) count(section string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[section]
}

func (s *sectionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	section := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	s.mu.Lock()
	s.calls[section]++
	realtime := s.realtime
	s.mu.Unlock()

	bodies := map[string]string{
		"realtime": realtime,
		"energy":   `{"code":"0","data":{"totalEnergy":"17.2","recent50kmEnergy":"16.9"}}`,
		"hvac":     `{"code":"0","data":{"acSwitch":1,"mainSettingTemp":21}}`,
		"charging": `{"code":"0","data":{"chargingState":"idle","connectState":0,"power":"0"}}`,
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(bodies[section]))
}

func TestTelemetryGatesSections(t *testing.T) {
	ss := &sectionServer{calls: make(map[string]int)}
	srv := httptest.NewServer(ss)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// The first fetch learns every section.
	ss.setRealtime(`{"code":"0","data":{"vehicleState":"off","chargingState":"-1"}}`)
	if _, err := c.Telemetry(ctx, testVIN); err != nil {
		t.Fatal(err)
	}
	if ss.count("hvac") != 1 || ss.count("charging") != 1 {
		t.Fatalf("first fetch calls = %v", ss.calls)
	}

	// Off and unplugged: HVAC and charging come from the last fetch.
	tel, err := c.Telemetry(ctx, testVIN)
	if err != nil {
		t.Fatal(err)
	}
	if ss.count("hvac") != 1 || ss.count("charging") != 1 || ss.count("energy") != 2 {
		t.Fatalf("gated fetch calls = %v", ss.calls)
	}
	if tel.HVAC == nil || !tel.HVAC.On || tel.Charging == nil || tel.Charging.State != "idle" {
		t.Fatalf("gated sections not filled: hvac=%+v charging=%+v", tel.HVAC, tel.Charging)
	}

	// On and charging: both are fetched again.
	ss.setRealtime(`{"code":"0","data":{"vehicleState":"on","isCharging":true}}`)
	if _, err := c.Telemetry(ctx, testVIN); err != nil {
		t.Fatal(err)
	}
	if ss.count("hvac") != 2 || ss.count("charging") != 2 {
		t.Fatalf("ungated fetch calls = %v", ss.calls)
	}
}

func TestShouldFetchCharging(t *testing.T) {
	plugged := &provider.Charging{Connected: true}
	unpluggedPrev := &provider.Charging{}
	tests := []struct {
		name string
		rt   provider.Realtime
		prev *provider.Charging
		want bool
	}{
		{"initial", provider.Realtime{}, nil, true},
		{"charging", provider.Realtime{IsCharging: true, ChargingState: "-1"}, unpluggedPrev, true},
		{"unplugged state", provider.Realtime{ChargingState: "-1"}, plugged, false},
		{"plugged state", provider.Realtime{ChargingState: "0"}, unpluggedPrev, true},
		{"cached connection", provider.Realtime{}, plugged, true},
		{"cached disconnected", provider.Realtime{}, unpluggedPrev, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, reason := shouldFetchCharging(&tt.rt, tt.prev); got != tt.want {
				t.Fatalf("shouldFetchCharging = %v (%s), want %v", got, reason, tt.want)
			}
		})
	}
}

func TestTelemetryFailsWithoutRealtime(t *testing.T) {
	c := newTestClient(t, map[string]string{
		"GET /api/vehicles/" + testVIN + "/realtime": "429",
	})
	_, err := c.Telemetry(context.Background(), testVIN)
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"1001", provider.ErrUnsupported},
		{"1002", provider.ErrSessionExpired},
		{"5005", provider.ErrPinLockout},
		{"5006", provider.ErrPinLockout},
		{"6024", provider.ErrRateLimited},
		{"9999", provider.ErrAPI},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classify("/x", envelope{Code: tt.code})
			if !errors.Is(err, tt.want) {
				t.Fatalf("classify(%s) = %v", tt.code, err)
			}
			code, endpoint := provider.Details(err)
			if code != tt.code || endpoint != "/x" {
				t.Fatalf("details = %q, %q", code, endpoint)
			}
		})
	}
}

func TestGPSAndTransportError(t *testing.T) {
	c := newTestClient(t, map[string]string{
		"GET /api/vehicles/" + testVIN + "/gps": `{"code":"0","data":{"latitude":59.91,"longitude":10.75,"direction":90,"speed":42.5,"gpsTimeStamp":1735689600000}}`,
	})
	g, err := c.GPS(context.Background(), testVIN)
	if err != nil {
		t.Fatalf("GPS: %v", err)
	}
	if g.Heading != 90 || g.Speed == nil || *g.Speed != 42.5 || g.GPSTimestamp.Unix() != 1735689600 {
		t.Fatalf("gps = %+v", g)
	}

	dead, _ := New(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := dead.GPS(context.Background(), testVIN); !errors.Is(err, provider.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestExecuteRelaysRawResult(t *testing.T) {
	c := newTestClient(t, map[string]string{
		"POST /api/vehicles/" + testVIN + "/commands/lock": `{"code":"0","data":{"controlState":1,"requestSerial":"S1","extra":"kept"}}`,
		"POST /api/vehicles/" + testVIN + "/commands/honk_horn": `{"code":"1001","message":"endpoint not supported"}`,
	})

	r, err := c.Execute(context.Background(), testVIN, provider.Command{Name: provider.CommandLock, RequestID: "r1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success || r.RequestSerial != "S1" || r.Raw["extra"] != "kept" || r.RequestID != "r1" {
		t.Fatalf("result = %+v", r)
	}

	_, err = c.Execute(context.Background(), testVIN, provider.Command{Name: provider.CommandHonkHorn})
	if !errors.Is(err, provider.ErrUnsupported) || !strings.Contains(err.Error(), "honk_horn") {
		t.Fatalf("expected unsupported with endpoint, got %v", err)
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "bridge.local"}); err == nil {
		t.Fatal("expected error")
	}
}

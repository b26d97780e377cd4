package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
)

func TestFetchStatus(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []poller.VehicleStatus{{
		VIN:                "LGXCE4CB0P0123456",
		PollingEnabled:     true,
		CanonicalUpdatedAt: updated,
		Telemetry:          poller.StreamStatus{Stream: poller.StreamTelemetry, State: poller.StateIdle, LastOutcome: poller.OutcomeUpdated},
		GPS:                poller.StreamStatus{Stream: poller.StreamGPS, State: poller.StateIdle, Interval: 5 * time.Minute},
	}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/vehicles" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := fetchStatus(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("fetchStatus() = %v", err)
	}
	if len(got) != 1 || got[0].VIN != want[0].VIN || !got[0].CanonicalUpdatedAt.Equal(updated) {
		t.Fatalf("fetchStatus() = %+v", got)
	}

	out := statusTable(got).String()
	for _, s := range []string{"VIN", "123456", "on", "idle/updated", "5m0s"} {
		if !strings.Contains(out, s) {
			t.Errorf("table missing %q:\n%s", s, out)
		}
	}
	if strings.Contains(out, "LGXCE4CB0P0") {
		t.Errorf("table leaks the full VIN:\n%s", out)
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := fetchStatus(context.Background(), srv.URL); err == nil {
		t.Fatal("fetchStatus() = nil, want error")
	}
}

func TestNewAppCommands(t *testing.T) {
	cmd := NewApp().Command()
	if cmd.Use != commandName {
		t.Fatalf("Use = %q", cmd.Use)
	}
	for _, name := range []string{"status", "health"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if cmd.Flags().Lookup("poll.interval") == nil {
		t.Error("poll.interval flag not registered")
	}
}

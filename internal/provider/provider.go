package provider

import (
	"context"
	"time"
)

// Source is a live, uncached view of one vendor account.
type Source interface {
	Vehicles(ctx context.Context) ([]Vehicle, error)
	Telemetry(ctx context.Context, vin string) (*Telemetry, error)
	GPS(ctx context.Context, vin string) (*GPS, error)
	Execute(ctx context.Context, vin string, cmd Command) (*RemoteResult, error)
}

// Provider is what a coordinator polls. Fetches take a staleness hint and
// report whether the payload was served from a cache instead of the vehicle.
// Returned payloads are shared and must not be mutated.
type Provider interface {
	Vehicles(ctx context.Context) ([]Vehicle, error)
	FetchTelemetry(ctx context.Context, vin string, staleAfter time.Duration) (*Telemetry, bool, error)
	FetchGPS(ctx context.Context, vin string, staleAfter time.Duration) (*GPS, bool, error)
	Execute(ctx context.Context, vin string, cmd Command) (*RemoteResult, error)
}

// DumpWriter receives redacted debug traces.
type DumpWriter interface {
	Write(ctx context.Context, category string, payload any)
}

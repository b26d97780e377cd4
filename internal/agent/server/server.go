// Package server exposes the agent over HTTP and gRPC.
package server

import (
	"context"

	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

// Server is implemented by every protocol server of the agent.
type Server interface {
	Start(ctx context.Context) error
}

// Vehicle is the per-vehicle surface served by the API. It is implemented
// by *poller.Coordinator.
type Vehicle interface {
	VIN() string
	Status() poller.VehicleStatus
	Refresh(ctx context.Context, kind poller.StreamKind) (poller.Update, error)
	SetPollingEnabled(enabled bool)
	Execute(ctx context.Context, cmd provider.Command) (*provider.RemoteResult, error)
	LastRemoteResult(name provider.CommandName) (*provider.RemoteResult, bool)
}

var _ Vehicle = (*poller.Coordinator)(nil)

// Backend resolves vehicles for the API.
type Backend interface {
	// Vehicles returns all coordinated vehicles ordered by VIN.
	Vehicles() []Vehicle
	Vehicle(vin string) (Vehicle, bool)
	// Ready reports whether the first refresh has completed.
	Ready() bool
}

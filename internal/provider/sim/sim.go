// Package sim provides a simulated fleet for running the poller without a
// vendor account.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"k8s.io/utils/clock"

	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

var _ provider.Source = (*Fleet)(nil)

// Cycle is the length of one drive/park/charge schedule.
const Cycle = time.Hour

// Phase of the simulated schedule.
const (
	PhaseDriving  = "driving"
	PhaseParked   = "parked"
	PhaseCharging = "charging"
)

const (
	homeLat = 59.9139
	homeLon = 10.7522
)

type vehicleState struct {
	provider.Vehicle
	offset   time.Duration
	locked   bool
	climate  bool
	target   float64
	serial   int
	smartChg bool
}

// Fleet is a deterministic simulated account.
type Fleet struct {
	clock       clock.PassiveClock
	failureRate float64

	mu       sync.Mutex
	rng      *rand.Rand
	vehicles []*vehicleState
}

// Options for a Fleet.
type Options struct {
	Vehicles    int
	FailureRate float64
	Seed        uint64
	Clock       clock.PassiveClock
}

// NewFleet builds n vehicles whose schedules are spread over the cycle.
func NewFleet(opts Options) *Fleet {
	n := max(opts.Vehicles, 1)
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	f := &Fleet{
		clock:       clk,
		failureRate: opts.FailureRate,
		rng:         rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
	for i := range n {
		f.vehicles = append(f.vehicles, &vehicleState{
			Vehicle: provider.Vehicle{
				VIN:         fmt.Sprintf("LSIMBYD%010d", i+1),
				ModelName:   "SEAL",
				BrandName:   "BYD",
				Nickname:    fmt.Sprintf("Simulated %d", i+1),
				TboxVersion: "sim-1",
			},
			offset: time.Duration(i) * Cycle / time.Duration(n),
			locked: true,
			target: 21,
		})
	}
	return f
}

func (f *Fleet) Vehicles(context.Context) ([]provider.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Vehicle, 0, len(f.vehicles))
	for _, v := range f.vehicles {
		out = append(out, v.Vehicle)
	}
	return out, nil
}

func (f *Fleet) Telemetry(ctx context.Context, vin string) (*provider.Telemetry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.lookup(vin, "/realtime")
	if err != nil {
		return nil, err
	}
	now := f.clock.Now().UTC()
	phase, progress := f.phase(v, now)
	v.serial++

	speed := 0.0
	if phase == PhaseDriving {
		speed = 50 + 30*math.Sin(progress*math.Pi)
	}
	soc := f.soc(phase, progress)
	power := decimal.Zero
	if phase == PhaseCharging {
		power = decimal.NewFromFloat(7.4)
	}

	cycles := now.Add(v.offset).Unix() / int64(Cycle.Seconds())
	return &provider.Telemetry{
		VIN: vin,
		Realtime: &provider.Realtime{
			VehicleState:  phase,
			Locked:        v.locked && phase != PhaseDriving,
			IsCharging:    phase == PhaseCharging,
			ChargingState: phase,
			SOC:           soc,
			Speed:         &speed,
			Mileage:       float64(cycles) * 25,
			Timestamp:     now,
		},
		Charging: &provider.Charging{
			State:      phase,
			Connected:  phase == PhaseCharging,
			Power:      power,
			SOC:        soc,
			UpdateTime: now,
		},
		HVAC: &provider.HVAC{
			On:                v.climate,
			TargetTemperature: v.target,
			CabinTemperature:  18,
		},
		Energy: &provider.Energy{
			Total:  decimal.NewFromInt(cycles).Mul(decimal.RequireFromString("4.3")),
			Recent: decimal.RequireFromString("17.2"),
		},
		RequestSerial: fmt.Sprintf("%s-%d", vin[len(vin)-4:], v.serial),
		ServerTime:    now,
	}, nil
}

func (f *Fleet) GPS(ctx context.Context, vin string) (*provider.GPS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.lookup(vin, "/gps")
	if err != nil {
		return nil, err
	}
	now := f.clock.Now().UTC()
	phase, progress := f.phase(v, now)
	v.serial++

	// Drive a 2 km circle around home; park where the drive ended.
	angle := 2 * math.Pi
	speed := 0.0
	if phase == PhaseDriving {
		angle = 2 * math.Pi * progress
		speed = 50 + 30*math.Sin(progress*math.Pi)
	}
	return &provider.GPS{
		VIN:           vin,
		Latitude:      round6(homeLat + 0.018*math.Sin(angle)),
		Longitude:     round6(homeLon + 0.036*(1-math.Cos(angle))),
		Heading:       math.Mod(angle*180/math.Pi+90, 360),
		Speed:         &speed,
		GPSTimestamp:  now,
		RequestSerial: fmt.Sprintf("%s-%d", vin[len(vin)-4:], v.serial),
	}, nil
}

func (f *Fleet) Execute(ctx context.Context, vin string, cmd provider.Command) (*provider.RemoteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	endpoint := "/commands/" + string(cmd.Name)
	v, err := f.lookup(vin, endpoint)
	if err != nil {
		return nil, err
	}

	switch cmd.Name {
	case provider.CommandHonkHorn:
		return nil, provider.NewError(provider.KindUnsupported, endpoint, "1001", "endpoint not supported")
	case provider.CommandLock:
		v.locked = true
	case provider.CommandUnlock:
		v.locked = false
	case provider.CommandStartClimate:
		v.climate = true
		if t, ok := cmd.Params[provider.ParamTemperature].(float64); ok {
			v.target = t
		}
	case provider.CommandStopClimate:
		v.climate = false
	case provider.CommandSmartCharging:
		v.smartChg, _ = cmd.Params[provider.ParamEnable].(bool)
	case provider.CommandRenameVehicle:
		if name, ok := cmd.Params[provider.ParamName].(string); ok {
			v.Nickname = name
		}
	}

	serial := uuid.NewString()
	return &provider.RemoteResult{
		Command:       cmd.Name,
		RequestID:     cmd.RequestID,
		Success:       true,
		ControlState:  1,
		RequestSerial: serial,
		Raw: map[string]any{
			"controlState":  1,
			"requestSerial": serial,
			"params":        cmd.Params,
		},
		At: f.clock.Now().UTC(),
	}, nil
}

func (f *Fleet) lookup(vin, endpoint string) (*vehicleState, error) {
	if f.failureRate > 0 && f.rng.Float64() < f.failureRate {
		return nil, provider.NewError(provider.KindTransport, endpoint, "", "simulated network failure")
	}
	for _, v := range f.vehicles {
		if v.VIN == vin {
			return v, nil
		}
	}
	return nil, provider.NewError(provider.KindAPI, endpoint, "1004", "unknown vehicle")
}

// phase returns where v is in its schedule and the progress within that phase.
// 0-10 min driving, 10-40 parked, 40-60 charging.
func (f *Fleet) phase(v *vehicleState, now time.Time) (string, float64) {
	pos := time.Duration(now.Add(v.offset).UnixNano()) % Cycle
	switch {
	case pos < 10*time.Minute:
		return PhaseDriving, float64(pos) / float64(10*time.Minute)
	case pos < 40*time.Minute:
		return PhaseParked, float64(pos-10*time.Minute) / float64(30*time.Minute)
	default:
		return PhaseCharging, float64(pos-40*time.Minute) / float64(20*time.Minute)
	}
}

func (f *Fleet) soc(phase string, progress float64) float64 {
	switch phase {
	case PhaseDriving:
		return math.Round(80 - 8*progress)
	case PhaseParked:
		return 72
	default:
		return math.Round(72 + 8*progress)
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

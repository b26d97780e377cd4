package poller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jkaberg/hass-byd-vehicle/internal/pkg/metrics"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

var (
	// ErrCommandUnsupported is returned without contacting the provider once
	// the command, or its paired command, was reported unsupported.
	ErrCommandUnsupported = errors.New("command not supported by this vehicle")

	// ErrUnknownCommand is returned for names the provider cannot relay.
	ErrUnknownCommand = errors.New("unknown command")
)

// Execute relays cmd to the provider exactly once and records the raw
// result as the command's last remote result. On failure the recorded
// result and the provider error are both returned.
func (c *Coordinator) Execute(ctx context.Context, cmd provider.Command) (*provider.RemoteResult, error) {
	if !cmd.Name.Known() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	if !c.CommandSupported(cmd.Name) {
		metrics.CommandTotal.WithLabelValues(string(cmd.Name), "unsupported").Inc()
		return nil, fmt.Errorf("%s: %w", cmd.Name, ErrCommandUnsupported)
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}

	logger := c.logger.WithValues("command", cmd.Name, "requestID", cmd.RequestID)
	logger.Info("Relaying remote command")

	res, err := c.cfg.Provider.Execute(ctx, c.cfg.VIN, cmd)
	now := c.cfg.Clock.Now()

	c.mu.Lock()
	if err != nil {
		res = provider.FailedResult(cmd, err, now)
		if provider.KindOf(err) == provider.KindUnsupported {
			c.markUnsupportedLocked(cmd.Name)
		}
	} else {
		if res == nil {
			res = &provider.RemoteResult{Success: true}
		}
		res.Command = cmd.Name
		if res.RequestID == "" {
			res.RequestID = cmd.RequestID
		}
		if res.At.IsZero() {
			res.At = now
		}
	}
	c.remoteResults[cmd.Name] = res
	status := c.statusLocked()
	c.mu.Unlock()

	result := "success"
	switch {
	case err != nil:
		result = "failed"
		logger.Warn("Remote command failed", "errorType", res.ErrorType, "errorCode", res.ErrorCode, "error", res.Error)
	case !res.Success:
		result = "rejected"
		logger.Info("Remote command rejected by vehicle", "controlState", res.ControlState)
	default:
		// The vehicle state changed; the next fetch must go to the vehicle.
		if inv, ok := c.cfg.Provider.(interface{ Invalidate(vin string) }); ok {
			inv.Invalidate(c.cfg.VIN)
		}
	}
	metrics.CommandTotal.WithLabelValues(string(cmd.Name), result).Inc()

	c.publish(Update{
		VIN:     c.cfg.VIN,
		Outcome: OutcomeCommand,
		Err:     err,
		Status:  status,
		Command: res,
	})
	return res, err
}

// CommandSupported reports whether name has not been reported unsupported.
func (c *Coordinator) CommandSupported(name provider.CommandName) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, unsupported := c.unsupported[name]
	return !unsupported
}

// LastRemoteResult returns the last recorded result of name.
func (c *Coordinator) LastRemoteResult(name provider.CommandName) (*provider.RemoteResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.remoteResults[name]
	return r, ok
}

func (c *Coordinator) markUnsupportedLocked(name provider.CommandName) {
	c.unsupported[name] = struct{}{}
	if pair, ok := name.Pair(); ok {
		c.unsupported[pair] = struct{}{}
	}
	c.logger.Info("Remote command marked unsupported", "command", name)
}

func (c *Coordinator) Lock(ctx context.Context) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{Name: provider.CommandLock})
}

func (c *Coordinator) Unlock(ctx context.Context) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{Name: provider.CommandUnlock})
}

// StartClimate starts climate control. durationMinutes <= 0 uses the
// configured default.
func (c *Coordinator) StartClimate(ctx context.Context, durationMinutes int, temperature float64) (*provider.RemoteResult, error) {
	if durationMinutes <= 0 {
		durationMinutes = c.cfg.ClimateDuration
	}
	if durationMinutes > 60 {
		return nil, fmt.Errorf("climate duration %d exceeds 60 minutes", durationMinutes)
	}
	return c.Execute(ctx, provider.Command{
		Name: provider.CommandStartClimate,
		Params: map[string]any{
			provider.ParamDurationMinutes: durationMinutes,
			provider.ParamTemperature:     temperature,
		},
	})
}

func (c *Coordinator) StopClimate(ctx context.Context) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{Name: provider.CommandStopClimate})
}

// SetSeatClimate sets heating/ventilation levels per seat, e.g.
// {"driver_heat": 3, "passenger_ventilation": 1}.
func (c *Coordinator) SetSeatClimate(ctx context.Context, seats map[string]int) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{
		Name:   provider.CommandSetSeatClimate,
		Params: map[string]any{provider.ParamSeats: seats},
	})
}

func (c *Coordinator) FlashLights(ctx context.Context) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{Name: provider.CommandFlashLights})
}

func (c *Coordinator) HonkHorn(ctx context.Context) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{Name: provider.CommandHonkHorn})
}

func (c *Coordinator) SetBatteryHeat(ctx context.Context, on bool) (*provider.RemoteResult, error) {
	name := provider.CommandBatteryHeatOff
	if on {
		name = provider.CommandBatteryHeatOn
	}
	return c.Execute(ctx, provider.Command{Name: name})
}

func (c *Coordinator) SetSteeringWheelHeat(ctx context.Context, on bool) (*provider.RemoteResult, error) {
	name := provider.CommandSteeringWheelHeatOff
	if on {
		name = provider.CommandSteeringWheelHeatOn
	}
	return c.Execute(ctx, provider.Command{Name: name})
}

func (c *Coordinator) SetSmartCharging(ctx context.Context, enable bool) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{
		Name:   provider.CommandSmartCharging,
		Params: map[string]any{provider.ParamEnable: enable},
	})
}

// ChargingSchedule is the smart charging window.
type ChargingSchedule struct {
	TargetSOC   int `json:"target_soc"`
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
}

// DefaultChargingSchedule charges to 80% between 00:00 and 06:00.
func DefaultChargingSchedule() ChargingSchedule {
	return ChargingSchedule{
		TargetSOC:   provider.DefaultTargetSOC,
		StartHour:   provider.DefaultStartHour,
		StartMinute: provider.DefaultStartMinute,
		EndHour:     provider.DefaultEndHour,
		EndMinute:   provider.DefaultEndMinute,
	}
}

func (s ChargingSchedule) validate() error {
	switch {
	case s.TargetSOC < 0 || s.TargetSOC > 100:
		return fmt.Errorf("target soc %d out of range", s.TargetSOC)
	case s.StartHour < 0 || s.StartHour > 23 || s.EndHour < 0 || s.EndHour > 23:
		return errors.New("schedule hours must be within 0-23")
	case s.StartMinute < 0 || s.StartMinute > 59 || s.EndMinute < 0 || s.EndMinute > 59:
		return errors.New("schedule minutes must be within 0-59")
	}
	return nil
}

func (c *Coordinator) SaveChargingSchedule(ctx context.Context, s ChargingSchedule) (*provider.RemoteResult, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return c.Execute(ctx, provider.Command{
		Name: provider.CommandSaveChargingSchedule,
		Params: map[string]any{
			provider.ParamTargetSOC:   s.TargetSOC,
			provider.ParamStartHour:   s.StartHour,
			provider.ParamStartMinute: s.StartMinute,
			provider.ParamEndHour:     s.EndHour,
			provider.ParamEndMinute:   s.EndMinute,
		},
	})
}

func (c *Coordinator) Rename(ctx context.Context, name string) (*provider.RemoteResult, error) {
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	return c.Execute(ctx, provider.Command{
		Name:   provider.CommandRenameVehicle,
		Params: map[string]any{provider.ParamName: name},
	})
}

func (c *Coordinator) SetPushNotifications(ctx context.Context, enable bool) (*provider.RemoteResult, error) {
	return c.Execute(ctx, provider.Command{
		Name:   provider.CommandPushNotifications,
		Params: map[string]any{provider.ParamEnable: enable},
	})
}

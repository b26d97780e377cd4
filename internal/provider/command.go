package provider

import (
	"time"
)

// CommandName identifies a remote command.
type CommandName string

const (
	CommandLock                 CommandName = "lock"
	CommandUnlock               CommandName = "unlock"
	CommandStartClimate         CommandName = "start_climate"
	CommandStopClimate          CommandName = "stop_climate"
	CommandSetSeatClimate       CommandName = "set_seat_climate"
	CommandFlashLights          CommandName = "flash_lights"
	CommandHonkHorn             CommandName = "honk_horn"
	CommandBatteryHeatOn        CommandName = "battery_heat_on"
	CommandBatteryHeatOff       CommandName = "battery_heat_off"
	CommandSteeringWheelHeatOn  CommandName = "steering_wheel_heat_on"
	CommandSteeringWheelHeatOff CommandName = "steering_wheel_heat_off"
	CommandSmartCharging        CommandName = "smart_charging"
	CommandSaveChargingSchedule CommandName = "save_charging_schedule"
	CommandRenameVehicle        CommandName = "rename_vehicle"
	CommandPushNotifications    CommandName = "push_notifications"
)

var knownCommands = map[CommandName]struct{}{
	CommandLock: {}, CommandUnlock: {},
	CommandStartClimate: {}, CommandStopClimate: {},
	CommandSetSeatClimate: {}, CommandFlashLights: {}, CommandHonkHorn: {},
	CommandBatteryHeatOn: {}, CommandBatteryHeatOff: {},
	CommandSteeringWheelHeatOn: {}, CommandSteeringWheelHeatOff: {},
	CommandSmartCharging: {}, CommandSaveChargingSchedule: {},
	CommandRenameVehicle: {}, CommandPushNotifications: {},
}

// commandPairs lists commands that share a vehicle capability: if one side
// is unsupported, so is the other.
var commandPairs = map[CommandName]CommandName{
	CommandStartClimate:         CommandStopClimate,
	CommandStopClimate:          CommandStartClimate,
	CommandBatteryHeatOn:        CommandBatteryHeatOff,
	CommandBatteryHeatOff:       CommandBatteryHeatOn,
	CommandSteeringWheelHeatOn:  CommandSteeringWheelHeatOff,
	CommandSteeringWheelHeatOff: CommandSteeringWheelHeatOn,
	CommandLock:                 CommandUnlock,
	CommandUnlock:               CommandLock,
}

// Known reports whether n is a command this module can relay.
func (n CommandName) Known() bool {
	_, ok := knownCommands[n]
	return ok
}

// Pair returns the command sharing n's capability.
func (n CommandName) Pair() (CommandName, bool) {
	p, ok := commandPairs[n]
	return p, ok
}

// Commands returns every known command name.
func Commands() []CommandName {
	out := make([]CommandName, 0, len(knownCommands))
	for n := range knownCommands {
		out = append(out, n)
	}
	return out
}

// Parameter keys understood by sources.
const (
	ParamDurationMinutes = "duration_minutes"
	ParamTemperature     = "temperature"
	ParamSeats           = "seats"
	ParamEnable          = "enable"
	ParamTargetSOC       = "target_soc"
	ParamStartHour       = "start_hour"
	ParamStartMinute     = "start_minute"
	ParamEndHour         = "end_hour"
	ParamEndMinute       = "end_minute"
	ParamName            = "name"
)

// Charging schedule defaults.
const (
	DefaultTargetSOC   = 80
	DefaultStartHour   = 0
	DefaultStartMinute = 0
	DefaultEndHour     = 6
	DefaultEndMinute   = 0
)

// Command is a remote command relayed verbatim to the source.
type Command struct {
	Name      CommandName    `json:"command"`
	RequestID string         `json:"request_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// RemoteResult is the raw outcome of a remote command.
type RemoteResult struct {
	Command       CommandName    `json:"command"`
	RequestID     string         `json:"request_id,omitempty"`
	Success       bool           `json:"success"`
	ControlState  int            `json:"control_state"`
	RequestSerial string         `json:"request_serial,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorEndpoint string         `json:"error_endpoint,omitempty"`
	At            time.Time      `json:"at"`
}

// FailedResult records err as the outcome of cmd.
func FailedResult(cmd Command, err error, at time.Time) *RemoteResult {
	code, endpoint := Details(err)
	return &RemoteResult{
		Command:       cmd.Name,
		RequestID:     cmd.RequestID,
		Success:       false,
		Error:         err.Error(),
		ErrorType:     KindOf(err).String(),
		ErrorCode:     code,
		ErrorEndpoint: endpoint,
		At:            at,
	}
}

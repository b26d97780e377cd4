package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vehicle is one car on the account.
type Vehicle struct {
	VIN         string `json:"vin"`
	ModelName   string `json:"model_name"`
	BrandName   string `json:"brand_name"`
	Nickname    string `json:"nickname,omitempty"`
	TboxVersion string `json:"tbox_version,omitempty"`
}

// Realtime is the vehicle status section of a telemetry payload.
type Realtime struct {
	VehicleState  string   `json:"vehicle_state"`
	Locked        bool     `json:"locked"`
	DoorsOpen     bool     `json:"doors_open"`
	WindowsOpen   bool     `json:"windows_open"`
	IsCharging    bool     `json:"is_charging"`
	ChargingState string   `json:"charging_state,omitempty"`
	SOC           float64  `json:"soc"`
	Speed         *float64 `json:"speed,omitempty"`
	Mileage       float64  `json:"mileage"`

	// Timestamp is when the vehicle produced this snapshot.
	Timestamp time.Time `json:"timestamp"`
}

// Charging is the charging section of a telemetry payload.
type Charging struct {
	State      string          `json:"state"`
	Connected  bool            `json:"connected"`
	Power      decimal.Decimal `json:"power"`
	SOC        float64         `json:"soc"`
	UpdateTime time.Time       `json:"update_time"`
}

// HVAC is the climate section of a telemetry payload.
type HVAC struct {
	On                bool    `json:"on"`
	TargetTemperature float64 `json:"target_temperature"`
	CabinTemperature  float64 `json:"cabin_temperature"`
}

// Energy is the consumption section of a telemetry payload.
type Energy struct {
	Total  decimal.Decimal `json:"total"`
	Recent decimal.Decimal `json:"recent"`
}

// Telemetry is a full telemetry payload. Sections other than Realtime may be
// nil when the provider could not fetch them.
type Telemetry struct {
	VIN           string    `json:"vin"`
	Realtime      *Realtime `json:"realtime,omitempty"`
	Charging      *Charging `json:"charging,omitempty"`
	HVAC          *HVAC     `json:"hvac,omitempty"`
	Energy        *Energy   `json:"energy,omitempty"`
	RequestSerial string    `json:"request_serial,omitempty"`
	ServerTime    time.Time `json:"server_time"`
}

// GPS is a location payload.
type GPS struct {
	VIN           string    `json:"vin"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Heading       float64   `json:"heading"`
	Speed         *float64  `json:"speed,omitempty"`
	GPSTimestamp  time.Time `json:"gps_timestamp"`
	RequestSerial string    `json:"request_serial,omitempty"`
}

// TransmittedAt returns the newest transport timestamp carried by t.
func (t *Telemetry) TransmittedAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	latest := t.ServerTime
	if t.Realtime != nil && t.Realtime.Timestamp.After(latest) {
		latest = t.Realtime.Timestamp
	}
	if t.Charging != nil && t.Charging.UpdateTime.After(latest) {
		latest = t.Charging.UpdateTime
	}
	return latest
}

// TransmittedAt returns the transport timestamp of g.
func (g *GPS) TransmittedAt() time.Time {
	if g == nil {
		return time.Time{}
	}
	return g.GPSTimestamp
}

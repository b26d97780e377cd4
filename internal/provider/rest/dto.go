package rest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

// Wire shapes of the bridge. Timestamps are unix seconds.

type realtimeDTO struct {
	VehicleState  string   `json:"vehicleState"`
	LockState     int      `json:"lockState"`
	DoorsOpen     bool     `json:"doorsOpen"`
	WindowsOpen   bool     `json:"windowsOpen"`
	ChargingState string   `json:"chargingState"`
	IsCharging    bool     `json:"isCharging"`
	ElecPercent   float64  `json:"elecPercent"`
	Speed         *float64 `json:"speed"`
	TotalMileage  float64  `json:"totalMileage"`
	Time          int64    `json:"time"`
	ServerTime    int64    `json:"serverTime"`
	RequestSerial string   `json:"requestSerial"`
}

func (d realtimeDTO) toModel() *provider.Realtime {
	return &provider.Realtime{
		VehicleState:  d.VehicleState,
		Locked:        d.LockState == 2,
		DoorsOpen:     d.DoorsOpen,
		WindowsOpen:   d.WindowsOpen,
		IsCharging:    d.IsCharging,
		ChargingState: d.ChargingState,
		SOC:           d.ElecPercent,
		Speed:         d.Speed,
		Mileage:       d.TotalMileage,
		Timestamp:     fromUnix(d.Time),
	}
}

type chargingDTO struct {
	State       string          `json:"chargingState"`
	ConnectType int             `json:"connectState"`
	Power       decimal.Decimal `json:"power"`
	SOC         float64         `json:"soc"`
	UpdateTime  int64           `json:"updateTime"`
}

func (d chargingDTO) toModel() *provider.Charging {
	return &provider.Charging{
		State:      d.State,
		Connected:  d.ConnectType != 0,
		Power:      d.Power,
		SOC:        d.SOC,
		UpdateTime: fromUnix(d.UpdateTime),
	}
}

type hvacDTO struct {
	Status     int     `json:"acSwitch"`
	TargetTemp float64 `json:"mainSettingTemp"`
	CabinTemp  float64 `json:"tempInCar"`
}

func (d hvacDTO) toModel() *provider.HVAC {
	return &provider.HVAC{
		On:                d.Status == 1,
		TargetTemperature: d.TargetTemp,
		CabinTemperature:  d.CabinTemp,
	}
}

type energyDTO struct {
	TotalEnergy  decimal.Decimal `json:"totalEnergy"`
	RecentEnergy decimal.Decimal `json:"recent50kmEnergy"`
}

func (d energyDTO) toModel() *provider.Energy {
	return &provider.Energy{Total: d.TotalEnergy, Recent: d.RecentEnergy}
}

type gpsDTO struct {
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	Direction     float64  `json:"direction"`
	Speed         *float64 `json:"speed"`
	GPSTimestamp  int64    `json:"gpsTimeStamp"`
	RequestSerial string   `json:"requestSerial"`
}

func (d gpsDTO) toModel(vin string) *provider.GPS {
	return &provider.GPS{
		VIN:           vin,
		Latitude:      d.Latitude,
		Longitude:     d.Longitude,
		Heading:       d.Direction,
		Speed:         d.Speed,
		GPSTimestamp:  fromUnix(d.GPSTimestamp),
		RequestSerial: d.RequestSerial,
	}
}

func remoteResultFromRaw(cmd provider.Command, raw map[string]any) *provider.RemoteResult {
	r := &provider.RemoteResult{
		Command:   cmd.Name,
		RequestID: cmd.RequestID,
		Raw:       raw,
		At:        time.Now().UTC(),
	}
	if v, ok := raw["controlState"].(float64); ok {
		r.ControlState = int(v)
	}
	if v, ok := raw["requestSerial"]; ok && v != nil {
		r.RequestSerial = fmt.Sprint(v)
	}
	// controlState 1 is success; bridges that report "res" use 2 for success.
	switch {
	case r.ControlState == 1:
		r.Success = true
	default:
		if v, ok := raw["res"].(float64); ok && int(v) == 2 {
			r.Success = true
		}
	}
	return r
}

func fromUnix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	// Some endpoints report milliseconds.
	if sec > 1e12 {
		return time.UnixMilli(sec).UTC()
	}
	return time.Unix(sec, 0).UTC()
}

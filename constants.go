package hts221

import "periph.io/x/conn/v3/physic"

// DefaultAddr is the fixed I²C address of the HTS221.
const DefaultAddr uint16 = 0x5F

// Sensor range, informational only. Readings are never clamped to it.
const (
	MinTemperature = physic.ZeroCelsius - 40*physic.Kelvin
	MaxTemperature = physic.ZeroCelsius + 120*physic.Kelvin
	MinHumidity    = 0 * physic.PercentRH
	MaxHumidity    = 100 * physic.PercentRH
)

const (
	regWhoAmI    uint8 = 0x0F
	regCtrl1     uint8 = 0x20
	regHumOutL   uint8 = 0x28
	regHumOutH   uint8 = 0x29
	regTempOutL  uint8 = 0x2A
	regTempOutH  uint8 = 0x2B
	regCalibBase uint8 = 0x30
)

// whoAmIValue doubles as the register the identity probe reads on mismatch.
const whoAmIValue uint8 = 0xBC

// CTRL_REG1 bits
const (
	ctrlPD     uint8 = 0x80 // power active
	ctrlBDU    uint8 = 0x04 // block data update
	ctrlODR1Hz uint8 = 0x01
)

// Mode is the commanded power mode of the sensor.
type Mode int

const (
	ModePowerDown Mode = iota
	ModeActive
)

func (m Mode) String() string {
	switch m {
	case ModePowerDown:
		return "power-down"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// State is the bring-up stage of a Dev.
type State int

const (
	StateUninitialized State = iota
	StateIdentifying
	StateLoadingCalibration
	StateConfiguring
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdentifying:
		return "identifying"
	case StateLoadingCalibration:
		return "loading-calibration"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

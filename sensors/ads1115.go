package sensors

import (
	"errors"
	"fmt"
	"time"
)

// TI ADS1115 16-bit I2C ADC, used for analog inputs such as LDR
// illuminance dividers. Driven in single-shot mode: the OS bit both
// triggers a conversion and, read back, reports completion.
const (
	ADS1115Address = 0x48

	adsRegConversion = 0x00
	adsRegConfig     = 0x01

	adsConfigOS         = 0x8000 // write: trigger; read: conversion done
	adsConfigMuxSingle0 = 0x4000 // AINx vs GND, channel<<12
	adsConfigPGA4V      = 0x0200 // +-4.096 V
	adsConfigModeSingle = 0x0100
	adsConfigDR128      = 0x0080 // 128 SPS
	adsConfigCompOff    = 0x0003

	adsFullScaleVolts = 4.096
)

var errADSBadChannel = errors.New("ads1115: channel out of range")

// ADS1115 samples one single-ended input channel per cycle. ChannelName
// lets the wiring label the measurement for what is attached ("illuminance"
// for an LDR divider); Scale converts volts to that unit.
type ADS1115 struct {
	io RegisterIO

	input       int
	channelName string
	scale       float64
	precision   int
}

func NewADS1115(io RegisterIO, input int, channelName string, scale float64, precision int) (*ADS1115, error) {
	if input < 0 || input > 3 {
		return nil, fmt.Errorf("%w: %d", errADSBadChannel, input)
	}
	if channelName == "" {
		channelName = "voltage"
	}
	if scale == 0 {
		scale = 1.0
	}
	return &ADS1115{io: io, input: input, channelName: channelName, scale: scale, precision: precision}, nil
}

func (a *ADS1115) Name() string { return "ADS1115" }

func (a *ADS1115) config() uint16 {
	return adsConfigOS | adsConfigMuxSingle0 | uint16(a.input)<<12 |
		adsConfigPGA4V | adsConfigModeSingle | adsConfigDR128 | adsConfigCompOff
}

// Probe writes the idle configuration and reads it back. The ADC has no ID
// register; a matching readback (OS bit aside) is the presence check.
func (a *ADS1115) Probe() error {
	cfg := a.config() &^ adsConfigOS
	if err := a.io.WriteReg(adsRegConfig, byte(cfg>>8), byte(cfg)); err != nil {
		return err
	}
	raw, err := a.io.ReadReg(adsRegConfig, 2)
	if err != nil {
		return err
	}
	if readWordBE(raw, 0)&^adsConfigOS != cfg {
		return fmt.Errorf("ads1115: config readback mismatch: %#04x", readWordBE(raw, 0))
	}
	return nil
}

func (a *ADS1115) StartCycle() error {
	cfg := a.config()
	return a.io.WriteReg(adsRegConfig, byte(cfg>>8), byte(cfg))
}

func (a *ADS1115) Stages() []Stage {
	return []Stage{{
		Name:    "conversion",
		MinWait: 9 * time.Millisecond, // 1/128 SPS plus wakeup
		Ready:   a.conversionDone,
	}}
}

func (a *ADS1115) conversionDone() (bool, error) {
	raw, err := a.io.ReadReg(adsRegConfig, 2)
	if err != nil {
		return false, err
	}
	return readWordBE(raw, 0)&adsConfigOS != 0, nil
}

func (a *ADS1115) Collect() (map[string]float64, error) {
	raw, err := a.io.ReadReg(adsRegConversion, 2)
	if err != nil {
		return nil, err
	}
	volts := float64(int16(readWordBE(raw, 0))) * adsFullScaleVolts / 32768.0
	return map[string]float64{a.channelName: volts * a.scale}, nil
}

func (a *ADS1115) Channels() []ChannelSpec {
	return []ChannelSpec{{
		Name: a.channelName, Unit: "V", Precision: a.precision,
		Presets: map[FilterMode]FilterPreset{
			FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 0.005},
			FilterMedium:   {SmoothInterval: 8, PollTime: 30 * time.Second, Eps: 0.02},
			FilterLongterm: {SmoothInterval: 32, PollTime: 600 * time.Second, Eps: 0.05},
		},
	}}
}

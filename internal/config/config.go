// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sensor sources selectable with SENSOR_SOURCE.
const (
	SourceADC    = "adc"
	SourceSerial = "serial"
	SourceMock   = "mock"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDRobot   string
	MQTTClientIDWeb     string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string
	TopicTelemetry      string
	TopicState          string
	TelemetryEnabled    bool
	TelemetryQueueSize  int

	// Sensors
	SensorSource           string
	ADCI2CBus              string // "" picks the first bus
	ADCI2CAddr             uint16
	IRChannelCenter        int // ADS1115 input 0-3
	IRChannelLeft          int
	IRChannelRight         int
	IRChannelRear          int
	IRSampleInterval       int // milliseconds
	DistanceTriggerPin     string
	DistanceEchoPin        string
	DistanceSampleInterval int // milliseconds
	DistanceEchoTimeout    int // milliseconds
	SerialPort             string
	SerialBaudRate         int

	// Actuators and inputs
	ServoLeftPin  string
	ServoRightPin string
	ButtonPin     string

	// Control
	GeneralCoefficient           float64
	FramesPerSecond              int
	ConfidenceIncrementPerSecond float64
	ConfidenceDecrementPerSecond float64 // negative
	StartDelay                   int     // milliseconds
	LogEveryTicks                int     // 0 disables the periodic tick log

	// Calibration
	CalibrationSamples      int
	CalibrationPollInterval int // milliseconds
	CalibrationMaxAttempts  int

	// Web Server
	WebServerPort int

	// Display
	DisplayEnabled        bool
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds
}

// Package-level singleton state. External code must use InitGlobal() to set
// and Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the tuning the vehicle was built with. A config file only
// needs the keys it changes.
func Default() *Config {
	return &Config{
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDRobot:   "line-follower-robot",
		MQTTClientIDWeb:     "line-follower-web",
		MQTTClientIDConsole: "line-follower-console",
		MQTTClientIDDisplay: "line-follower-display",
		TopicTelemetry:      "line_follower/telemetry",
		TopicState:          "line_follower/state",
		TelemetryEnabled:    true,
		TelemetryQueueSize:  64,

		SensorSource:           SourceADC,
		ADCI2CAddr:             0x48,
		IRChannelCenter:        0,
		IRChannelLeft:          1,
		IRChannelRight:         2,
		IRChannelRear:          3,
		IRSampleInterval:       5,
		DistanceTriggerPin:     "GPIO4",
		DistanceEchoPin:        "GPIO14",
		DistanceSampleInterval: 60,
		DistanceEchoTimeout:    30,
		SerialPort:             "/dev/ttyUSB0",
		SerialBaudRate:         115200,

		ServoLeftPin:  "GPIO18",
		ServoRightPin: "GPIO19",
		ButtonPin:     "GPIO13",

		GeneralCoefficient:           0.5,
		FramesPerSecond:              25,
		ConfidenceIncrementPerSecond: 50,
		ConfidenceDecrementPerSecond: -100,
		StartDelay:                   2000,
		LogEveryTicks:                25,

		CalibrationSamples:      100,
		CalibrationPollInterval: 20,
		CalibrationMaxAttempts:  1000,

		WebServerPort: 8080,

		DisplayEnabled:        false,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default().
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error

	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_ROBOT":
		c.MQTTClientIDRobot = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "TELEMETRY_ENABLED":
		c.TelemetryEnabled, err = parseBool(key, value)
	case "TELEMETRY_QUEUE_SIZE":
		c.TelemetryQueueSize, err = parseIntRange(key, value, 1, 100000)

	// Sensors
	case "SENSOR_SOURCE":
		switch value {
		case SourceADC, SourceSerial, SourceMock:
			c.SensorSource = value
		default:
			return fmt.Errorf("SENSOR_SOURCE must be %s, %s or %s, got %q", SourceADC, SourceSerial, SourceMock, value)
		}
	case "ADC_I2C_BUS":
		c.ADCI2CBus = value
	case "ADC_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid ADC_I2C_ADDR %q: %w", value, perr)
		}
		c.ADCI2CAddr = uint16(addr)
	case "IR_CHANNEL_CENTER":
		c.IRChannelCenter, err = parseIntRange(key, value, 0, 3)
	case "IR_CHANNEL_LEFT":
		c.IRChannelLeft, err = parseIntRange(key, value, 0, 3)
	case "IR_CHANNEL_RIGHT":
		c.IRChannelRight, err = parseIntRange(key, value, 0, 3)
	case "IR_CHANNEL_REAR":
		c.IRChannelRear, err = parseIntRange(key, value, 0, 3)
	case "IR_SAMPLE_INTERVAL":
		c.IRSampleInterval, err = parseIntRange(key, value, 1, 10000)
	case "DISTANCE_TRIGGER_PIN":
		c.DistanceTriggerPin = value
	case "DISTANCE_ECHO_PIN":
		c.DistanceEchoPin = value
	case "DISTANCE_SAMPLE_INTERVAL":
		c.DistanceSampleInterval, err = parseIntRange(key, value, 1, 10000)
	case "DISTANCE_ECHO_TIMEOUT":
		c.DistanceEchoTimeout, err = parseIntRange(key, value, 1, 1000)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseIntRange(key, value, 1, 4000000)

	// Actuators and inputs
	case "SERVO_LEFT_PIN":
		c.ServoLeftPin = value
	case "SERVO_RIGHT_PIN":
		c.ServoRightPin = value
	case "BUTTON_PIN":
		c.ButtonPin = value

	// Control
	case "GENERAL_COEFFICIENT":
		c.GeneralCoefficient, err = parseFloat(key, value)
		if err == nil && (c.GeneralCoefficient <= 0 || c.GeneralCoefficient > 1) {
			return fmt.Errorf("GENERAL_COEFFICIENT must be in (0, 1], got %v", c.GeneralCoefficient)
		}
	case "FRAMES_PER_SECOND":
		c.FramesPerSecond, err = parseIntRange(key, value, 1, 1000)
	case "CONFIDENCE_INCREMENT_PER_SECOND":
		c.ConfidenceIncrementPerSecond, err = parseFloat(key, value)
		if err == nil && c.ConfidenceIncrementPerSecond < 0 {
			return fmt.Errorf("CONFIDENCE_INCREMENT_PER_SECOND must not be negative, got %v", c.ConfidenceIncrementPerSecond)
		}
	case "CONFIDENCE_DECREMENT_PER_SECOND":
		c.ConfidenceDecrementPerSecond, err = parseFloat(key, value)
		if err == nil && c.ConfidenceDecrementPerSecond > 0 {
			return fmt.Errorf("CONFIDENCE_DECREMENT_PER_SECOND must not be positive, got %v", c.ConfidenceDecrementPerSecond)
		}
	case "START_DELAY":
		c.StartDelay, err = parseIntRange(key, value, 0, 60000)
	case "LOG_EVERY_TICKS":
		c.LogEveryTicks, err = parseIntRange(key, value, 0, 1000000)

	// Calibration
	case "CALIBRATION_SAMPLES":
		c.CalibrationSamples, err = parseIntRange(key, value, 1, 100000)
	case "CALIBRATION_POLL_INTERVAL":
		c.CalibrationPollInterval, err = parseIntRange(key, value, 0, 10000)
	case "CALIBRATION_MAX_ATTEMPTS":
		c.CalibrationMaxAttempts, err = parseIntRange(key, value, 1, 10000000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseIntRange(key, value, 1, 65535)

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = parseBool(key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseIntRange(key, value, 1, 60000)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseIntRange(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.TelemetryEnabled && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required when TELEMETRY_ENABLED=true")
	}
	if c.TelemetryEnabled && c.TopicTelemetry == "" {
		return fmt.Errorf("TOPIC_TELEMETRY is required when TELEMETRY_ENABLED=true")
	}
	switch c.SensorSource {
	case SourceADC:
		if c.DistanceTriggerPin == "" || c.DistanceEchoPin == "" {
			return fmt.Errorf("DISTANCE_TRIGGER_PIN and DISTANCE_ECHO_PIN are required for SENSOR_SOURCE=adc")
		}
		seen := map[int]string{}
		for name, ch := range map[string]int{
			"IR_CHANNEL_CENTER": c.IRChannelCenter,
			"IR_CHANNEL_LEFT":   c.IRChannelLeft,
			"IR_CHANNEL_RIGHT":  c.IRChannelRight,
			"IR_CHANNEL_REAR":   c.IRChannelRear,
		} {
			if other, dup := seen[ch]; dup {
				return fmt.Errorf("%s and %s both use ADC channel %d", name, other, ch)
			}
			seen[ch] = name
		}
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SENSOR_SOURCE=serial")
		}
	}
	if c.ServoLeftPin == "" || c.ServoRightPin == "" {
		return fmt.Errorf("SERVO_LEFT_PIN and SERVO_RIGHT_PIN are required")
	}
	if c.ServoLeftPin == c.ServoRightPin {
		return fmt.Errorf("SERVO_LEFT_PIN and SERVO_RIGHT_PIN must differ, both are %s", c.ServoLeftPin)
	}
	if c.ButtonPin == "" {
		return fmt.Errorf("BUTTON_PIN is required")
	}
	if c.CalibrationMaxAttempts < c.CalibrationSamples {
		return fmt.Errorf("CALIBRATION_MAX_ATTEMPTS (%d) must be at least CALIBRATION_SAMPLES (%d)",
			c.CalibrationMaxAttempts, c.CalibrationSamples)
	}
	return nil
}

// Duration converts one of the millisecond fields to a time.Duration.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package actuator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Defaults for the bus section of FileConfig
const (
	DefaultBusSpeedHz  = 200000
	DefaultBusTimeout  = 10 * time.Millisecond
	DefaultQueueDepth  = 32
	maxQueueDepth      = 4096
	maxAddress7Bit     = 0x7F
	defaultTimeoutMsec = int(DefaultBusTimeout / time.Millisecond)
)

// FileConfig is the YAML configuration document read by actuatorctl.
type FileConfig struct {
	Timings  map[string]int64 `yaml:"timings"`
	Bus      BusConfig        `yaml:"bus"`
	Actuator BoardConfig      `yaml:"actuator"`
}

// BusConfig selects and configures the I2C bus.
type BusConfig struct {
	// Name is the periph bus name; empty selects the first available bus
	Name       string `yaml:"name"`
	SpeedHz    int    `yaml:"speed_hz"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	QueueDepth int    `yaml:"queue_depth"`
}

// BoardConfig describes the actuator board.
type BoardConfig struct {
	Firmware       *FirmwareConfig `yaml:"firmware"`
	Address        uint16          `yaml:"address"`
	PollIntervalMs int             `yaml:"poll_interval_ms"`
	MaxStatusAgeMs int             `yaml:"max_status_age_ms"`
}

// FirmwareConfig is the board firmware version the engine accepts.
type FirmwareConfig struct {
	Major uint8 `yaml:"major"`
	Minor uint8 `yaml:"minor"`
}

// DefaultFileConfig returns the configuration used when no file is given.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Bus: BusConfig{
			SpeedHz:    DefaultBusSpeedHz,
			TimeoutMs:  defaultTimeoutMsec,
			QueueDepth: DefaultQueueDepth,
		},
		Actuator: BoardConfig{
			Address:        DefaultAddress,
			PollIntervalMs: int(DefaultPollInterval / time.Millisecond),
			MaxStatusAgeMs: int(DefaultMaxStatusAge / time.Millisecond),
			Firmware:       &FirmwareConfig{Major: DefaultFirmwareMajor, Minor: DefaultFirmwareMinor},
		},
		Timings: DefaultTimings(),
	}
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := ParseConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML document on top of DefaultFileConfig and
// validates the result. Unknown keys are rejected. Timings listed in the
// document are merged over the defaults.
func ParseConfig(r io.Reader) (*FileConfig, error) {
	cfg := DefaultFileConfig()
	defaults := cfg.Timings
	cfg.Timings = nil

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for name, value := range cfg.Timings {
		defaults[name] = value
	}
	cfg.Timings = defaults

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration correctness without mutating it.
func (c *FileConfig) Validate() error {
	if c.Bus.SpeedHz <= 0 {
		return fmt.Errorf("%w: bus.speed_hz must be positive", ErrInvalidConfig)
	}
	if c.Bus.TimeoutMs <= 0 {
		return fmt.Errorf("%w: bus.timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.Bus.QueueDepth <= 0 || c.Bus.QueueDepth > maxQueueDepth {
		return fmt.Errorf("%w: bus.queue_depth must be in 1..%d", ErrInvalidConfig, maxQueueDepth)
	}
	if c.Actuator.Address == 0 || c.Actuator.Address > maxAddress7Bit {
		return fmt.Errorf("%w: actuator.address 0x%X is not a 7-bit address", ErrInvalidConfig, c.Actuator.Address)
	}
	if c.Actuator.PollIntervalMs <= 0 {
		return fmt.Errorf("%w: actuator.poll_interval_ms must be positive", ErrInvalidConfig)
	}
	if c.Actuator.MaxStatusAgeMs <= 0 {
		return fmt.Errorf("%w: actuator.max_status_age_ms must be positive", ErrInvalidConfig)
	}
	if c.Actuator.MaxStatusAgeMs < c.Actuator.PollIntervalMs {
		return fmt.Errorf("%w: actuator.max_status_age_ms shorter than the poll interval", ErrInvalidConfig)
	}
	if c.Actuator.Firmware == nil {
		return fmt.Errorf("%w: actuator.firmware is required", ErrInvalidConfig)
	}
	for name, value := range c.Timings {
		if err := ValidateTiming(name, value); err != nil {
			return fmt.Errorf("timings: %w", err)
		}
	}
	return nil
}

// BusSpeed returns the configured bus clock.
func (c *FileConfig) BusSpeed() physic.Frequency {
	return physic.Frequency(c.Bus.SpeedHz) * physic.Hertz
}

// BusTimeout returns the per-phase bus timeout.
func (c *FileConfig) BusTimeout() time.Duration {
	return time.Duration(c.Bus.TimeoutMs) * time.Millisecond
}

// DeviceOptions converts the actuator section into New options.
func (c *FileConfig) DeviceOptions() []Option {
	opts := []Option{
		WithAddress(c.Actuator.Address),
		WithPollInterval(time.Duration(c.Actuator.PollIntervalMs) * time.Millisecond),
		WithMaxStatusAge(time.Duration(c.Actuator.MaxStatusAgeMs) * time.Millisecond),
	}
	if fw := c.Actuator.Firmware; fw != nil {
		opts = append(opts, WithFirmwareVersion(fw.Major, fw.Minor))
	}
	return opts
}

// ApplyTimings feeds every configured timing to d. Parameters covering
// several entries go first so a specific entry overrides its group.
func (c *FileConfig) ApplyTimings(d *Device) error {
	names := TimingParameters()
	sort.SliceStable(names, func(i, j int) bool {
		return len(timingParams[names[i]]) > len(timingParams[names[j]])
	})
	for _, name := range names {
		value, ok := c.Timings[name]
		if !ok {
			continue
		}
		if err := d.SetTiming(name, value); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

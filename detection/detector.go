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

// Package detection scans I2C buses for an actuator board. It runs before the
// transfer queue is started and talks to each bus synchronously.
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	actuator "github.com/uwrt/go-actuator"
	"github.com/uwrt/go-actuator/internal/frame"
)

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence - something acknowledged but the response is not a valid frame
	Low Confidence = iota
	// Medium confidence - a valid status frame from unexpected firmware
	Medium
	// High confidence - valid status from the expected firmware version
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a detected actuator board
type DeviceInfo struct {
	// Bus is the periph bus name
	Bus     string
	Address uint16
	// Firmware reported by the board, zero at Low confidence
	FirmwareMajor uint8
	FirmwareMinor uint8
	Confidence    Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("actuator at %s@0x%02X firmware %d.%d (confidence: %s)",
		d.Bus, d.Address, d.FirmwareMajor, d.FirmwareMinor, d.Confidence)
}

// Options configures the detection behavior
type Options struct {
	// Bus names to skip
	IgnoreBuses []string
	// Addresses to probe on every bus
	Addresses []uint16
	// Timeout bounds a single probe
	Timeout time.Duration
	// Firmware version that earns High confidence
	FirmwareMajor uint8
	FirmwareMinor uint8
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Addresses:     []uint16{actuator.DefaultAddress},
		Timeout:       100 * time.Millisecond,
		FirmwareMajor: actuator.DefaultFirmwareMajor,
		FirmwareMinor: actuator.DefaultFirmwareMinor,
	}
}

// Errors
var (
	// ErrNoDevicesFound indicates no actuator board answered
	ErrNoDevicesFound = errors.New("no actuator board found")
	// ErrDetectionTimeout indicates a probe did not return in time
	ErrDetectionTimeout = errors.New("detection timeout")
)

// Probe sends one get-status command to addr on bus and grades the answer.
// A bus error (NACK) means nothing is there.
func Probe(ctx context.Context, bus i2c.Bus, name string, addr uint16, opts *Options) (DeviceInfo, error) {
	cmd := make([]byte, actuator.CmdGetStatus.CommandSize())
	cmd[0] = byte(actuator.CmdGetStatus)
	frame.Seal(cmd)
	resp := make([]byte, actuator.CmdGetStatus.ResponseSize())

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// The bus call cannot be interrupted; a stalled probe is abandoned
	done := make(chan error, 1)
	go func() {
		if err := bus.Tx(addr, cmd, nil); err != nil {
			done <- err
			return
		}
		done <- bus.Tx(addr, nil, resp)
	}()

	select {
	case err := <-done:
		if err != nil {
			return DeviceInfo{}, fmt.Errorf("probe %s@0x%02X: %w", name, addr, err)
		}
	case <-ctx.Done():
		return DeviceInfo{}, fmt.Errorf("probe %s@0x%02X: %w", name, addr, ErrDetectionTimeout)
	}

	info := DeviceInfo{Bus: name, Address: addr, Confidence: Low}
	if !frame.Verify(resp) || actuator.Result(resp[0]) != actuator.ResultSuccessful {
		return info, nil
	}
	info.FirmwareMajor, info.FirmwareMinor = resp[1], resp[2]
	info.Confidence = Medium
	if info.FirmwareMajor == opts.FirmwareMajor && info.FirmwareMinor == opts.FirmwareMinor {
		info.Confidence = High
	}
	return info, nil
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll probes every registered bus in parallel. The periph host drivers
// must already be initialized. Results are ordered by bus registration.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	var refs []*i2creg.Ref
	for _, ref := range i2creg.All() {
		if !slices.Contains(opts.IgnoreBuses, ref.Name) {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, ErrNoDevicesFound
	}

	results := make([]chan detectionResult, len(refs))
	for i, ref := range refs {
		results[i] = make(chan detectionResult, 1)
		go func(ref *i2creg.Ref, out chan<- detectionResult) {
			out <- detectBus(ctx, ref, opts)
		}(ref, results[i])
	}

	var devices []DeviceInfo
	var errs []error
	for _, ch := range results {
		select {
		case res := <-ch:
			if res.err != nil {
				errs = append(errs, res.err)
			}
			devices = append(devices, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	// Return devices even if some buses failed
	if len(devices) > 0 {
		return devices, nil
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrNoDevicesFound
}

func detectBus(ctx context.Context, ref *i2creg.Ref, opts *Options) detectionResult {
	bus, err := ref.Open()
	if err != nil {
		return detectionResult{err: fmt.Errorf("open %s: %w", ref.Name, err)}
	}
	defer func() { _ = bus.Close() }()

	var res detectionResult
	for _, addr := range opts.Addresses {
		info, err := Probe(ctx, bus, ref.Name, addr, opts)
		if err != nil {
			// A timed out probe may still hold the bus
			if errors.Is(err, ErrDetectionTimeout) {
				res.err = err
				break
			}
			continue
		}
		res.devices = append(res.devices, info)
	}
	return res
}

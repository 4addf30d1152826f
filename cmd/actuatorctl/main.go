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

// Command actuatorctl drives the actuator board over I2C from an interactive
// shell. Commands given on the command line are run once, then it exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	actuator "github.com/uwrt/go-actuator"
	"github.com/uwrt/go-actuator/detection"
	"github.com/uwrt/go-actuator/polling"
	"github.com/uwrt/go-actuator/safety"
	"github.com/uwrt/go-actuator/transport/i2c"
)

type config struct {
	file    *actuator.FileConfig
	logDir  string
	args    []string
	debug   bool
	session bool
	detect  bool
}

// Package-level flag variables
var (
	flagConfig  string
	flagBus     string
	flagLogDir  string
	flagDebug   bool
	flagSession bool
	flagDetect  bool
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "YAML configuration file (built-in defaults if empty)")
	flag.StringVar(&flagBus, "bus", "", "I2C bus name, overrides bus.name (first bus if both empty)")
	flag.StringVar(&flagLogDir, "log-dir", "", "Directory for the session log (current directory if empty)")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagSession, "session-log", false, "Write a session log file")
	flag.BoolVar(&flagDetect, "detect", false, "Scan all I2C buses for the board and exit")
}

func parseConfig() (*config, error) {
	file := actuator.DefaultFileConfig()
	if flagConfig != "" {
		loaded, err := actuator.LoadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
		file = loaded
	}
	if flagBus != "" {
		file.Bus.Name = flagBus
	}

	cfg := &config{
		file:    file,
		logDir:  flagLogDir,
		args:    flag.Args(),
		debug:   flagDebug,
		session: flagSession,
		detect:  flagDetect,
	}

	if cfg.debug {
		actuator.SetDebugEnabled(true)
	}
	return cfg, nil
}

// app is everything the shell commands operate on.
type app struct {
	device *actuator.Device
	latch  *safety.Latch
	queue  *i2c.Queue
	actor  *polling.DeviceActor
	config *actuator.FileConfig
}

func connect(ctx context.Context, cfg *config) (*app, func(), error) {
	bus, err := i2c.Open(cfg.file.Bus.Name)
	if err != nil {
		return nil, nil, err
	}

	queue, err := i2c.NewQueue(bus, i2c.WithQueueDepth(cfg.file.Bus.QueueDepth))
	if err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("create transfer queue: %w", err)
	}
	if err := queue.Init(cfg.file.BusSpeed(), cfg.file.BusTimeout()); err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("init transfer queue: %w", err)
	}

	latch := safety.NewLatch()
	device, err := actuator.New(queue, latch, cfg.file.DeviceOptions()...)
	if err != nil {
		_ = queue.Close()
		_ = bus.Close()
		return nil, nil, fmt.Errorf("create device: %w", err)
	}
	latch.OnKillChange = func(bool) { device.RequestKillRefresh() }
	latch.OnFault = func(id actuator.FaultID, active bool) {
		if active {
			_, _ = fmt.Fprintf(os.Stderr, "FAULT %s raised\n", id)
		}
	}

	if err := cfg.file.ApplyTimings(device); err != nil {
		_ = queue.Close()
		_ = bus.Close()
		return nil, nil, err
	}

	actor := polling.NewDeviceActor(device, &polling.Config{
		PollInterval:  device.Config().PollInterval,
		SleepRecovery: polling.DefaultSleepRecoveryConfig(),
	}, polling.DeviceCallbacks{})
	if err := actor.Start(ctx); err != nil {
		_ = queue.Close()
		_ = bus.Close()
		return nil, nil, fmt.Errorf("start poller: %w", err)
	}

	a := &app{device: device, latch: latch, queue: queue, actor: actor, config: cfg.file}
	cleanup := func() {
		_ = actor.Stop(context.Background())
		_ = device.Close()
		if err := queue.Close(); err != nil {
			glog.Warningf("close transfer queue: %v", err)
		}
		if err := bus.Close(); err != nil {
			glog.Warningf("close bus: %v", err)
		}
	}
	return a, cleanup, nil
}

// runDetect lists every bus with an answering board.
func runDetect(ctx context.Context, cfg *config) error {
	if err := i2c.InitHost(); err != nil {
		return err
	}
	opts := detection.DefaultOptions()
	opts.Addresses = []uint16{cfg.file.Actuator.Address}
	if fw := cfg.file.Actuator.Firmware; fw != nil {
		opts.FirmwareMajor, opts.FirmwareMinor = fw.Major, fw.Minor
	}

	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	for _, d := range devices {
		_, _ = fmt.Println(d)
	}
	return nil
}

func run(ctx context.Context, cfg *config) error {
	if cfg.session {
		path, err := actuator.InitSessionLog(cfg.logDir)
		if err != nil {
			return err
		}
		defer func() { _ = actuator.CloseSessionLog() }()
		_, _ = fmt.Printf("Session log: %s\n", path)
	}

	if cfg.detect {
		return runDetect(ctx, cfg)
	}

	a, cleanup, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sh := newShell(a)
	if len(cfg.args) > 0 {
		if err := sh.Process(cfg.args...); err != nil {
			return fmt.Errorf("%s: %w", cfg.args[0], err)
		}
		return flushQueue(ctx, a.queue)
	}

	go func() {
		<-ctx.Done()
		sh.Close()
	}()
	sh.Run()
	return nil
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	defer glog.Flush()

	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

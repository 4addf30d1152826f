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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	actuator "github.com/uwrt/go-actuator"
	"github.com/uwrt/go-actuator/transport/i2c"
)

const flushTimeout = 2 * time.Second

var errUsage = errors.New("usage")

// command is one shell verb. run writes its report to out.
type command struct {
	run     func(a *app, args []string, out io.Writer) error
	name    string
	usage   string
	help    string
	aliases []string
}

var commands = []command{
	{name: "open-claw", help: "open the claw", run: simple((*actuator.Device).OpenClaw)},
	{name: "close-claw", help: "close the claw", run: simple((*actuator.Device).CloseClaw)},
	{name: "arm", help: "arm the torpedoes", run: simple((*actuator.Device).ArmTorpedo)},
	{name: "disarm", help: "disarm the torpedoes", run: simple((*actuator.Device).DisarmTorpedo)},
	{name: "fire", usage: "TORPEDO(1|2)", help: "fire a torpedo", run: runFire},
	{name: "drop", usage: "DROPPER(1|2)", help: "drop a marker", run: runDrop},
	{name: "clear-dropper", help: "clear the dropper status", run: simple((*actuator.Device).ClearDropperStatus)},
	{name: "reset", help: "reset the actuator board", run: simple((*actuator.Device).ResetActuators)},
	{name: "kill", usage: "on|off", help: "set the software kill switch", run: runKill},
	{name: "status", aliases: []string{"st"}, help: "show the last board status", run: runStatus},
	{name: "faults", help: "list latched faults", run: runFaults},
	{name: "set-timing", usage: "NAME VALUE", help: "change a timing parameter", run: runSetTiming},
	{name: "timings", help: "show configured timings and resync state", run: runTimings},
	{name: "resync", help: "run a timing resync pass", run: runResync},
	{name: "stats", help: "show transfer queue counters", run: runStats},
}

func simple(fn func(*actuator.Device) error) func(*app, []string, io.Writer) error {
	return func(a *app, _ []string, out io.Writer) error {
		if err := fn(a.device); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "OK")
		return nil
	}
}

func parseIndex(args []string, what string) (uint8, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%w: %s required", errUsage, what)
	}
	n, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", what, err)
	}
	return uint8(n), nil
}

func runFire(a *app, args []string, out io.Writer) error {
	n, err := parseIndex(args, "TORPEDO")
	if err != nil {
		return err
	}
	return simple(func(d *actuator.Device) error { return d.FireTorpedo(n) })(a, args, out)
}

func runDrop(a *app, args []string, out io.Writer) error {
	n, err := parseIndex(args, "DROPPER")
	if err != nil {
		return err
	}
	return simple(func(d *actuator.Device) error { return d.DropMarker(n) })(a, args, out)
}

func runKill(a *app, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: on|off required", errUsage)
	}
	switch strings.ToLower(args[0]) {
	case "on", "1", "true":
		a.latch.SetAssertingKill(true)
	case "off", "0", "false":
		a.latch.SetAssertingKill(false)
	default:
		return fmt.Errorf("%w: kill on|off, got %q", errUsage, args[0])
	}
	_, _ = fmt.Fprintf(out, "kill switch asserting=%t\n", a.latch.AssertingKill())
	return nil
}

func runStatus(a *app, _ []string, out io.Writer) error {
	st, ok := a.device.LastStatus()
	if !ok {
		_, _ = fmt.Fprintln(out, "no status received yet")
		return nil
	}
	_, _ = fmt.Fprintf(out, "connected:  %t\n", a.device.IsConnected())
	_, _ = fmt.Fprintf(out, "firmware:   %d.%d\n", st.FirmwareMajor, st.FirmwareMinor)
	_, _ = fmt.Fprintf(out, "claw:       %d\n", st.ClawState)
	_, _ = fmt.Fprintf(out, "torpedo:    %d\n", st.TorpedoState)
	_, _ = fmt.Fprintf(out, "droppers:   %d %d\n", st.Dropper1State, st.Dropper2State)
	_, _ = fmt.Fprintf(out, "kill:       %t\n", st.KillAsserted)
	_, _ = fmt.Fprintf(out, "missing:    %s\n", st.MissingTimings)
	return nil
}

func runFaults(a *app, _ []string, out io.Writer) error {
	faults := a.latch.Faults()
	if len(faults) == 0 {
		_, _ = fmt.Fprintln(out, "no faults")
		return nil
	}
	for _, id := range faults {
		_, _ = fmt.Fprintf(out, "%s (raised %d times)\n", id, a.latch.RaiseCount(id))
	}
	return nil
}

func runSetTiming(a *app, args []string, out io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: NAME VALUE required (one of %s)", errUsage,
			strings.Join(actuator.TimingParameters(), ", "))
	}
	value, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid VALUE: %w", err)
	}
	if err := a.device.SetTiming(args[0], value); err != nil {
		return err
	}
	a.config.Timings[args[0]] = value
	_, _ = fmt.Fprintln(out, "OK")
	return nil
}

func runTimings(a *app, _ []string, out io.Writer) error {
	for id := actuator.TimingID(0); id < actuator.NumTimings; id++ {
		value, ok := a.device.Timing(id)
		switch {
		case !ok:
			_, _ = fmt.Fprintf(out, "%-24s unset\n", id)
		default:
			_, _ = fmt.Fprintf(out, "%-24s %d\n", id, value)
		}
	}
	_, _ = fmt.Fprintf(out, "missing on board: %s\n", a.device.MissingTimings())
	return nil
}

func runResync(a *app, _ []string, out io.Writer) error {
	if a.device.ResyncTimings() {
		_, _ = fmt.Fprintln(out, "resync started")
	} else {
		_, _ = fmt.Fprintln(out, "nothing to resync")
	}
	return nil
}

func runStats(a *app, _ []string, out io.Writer) error {
	s := a.queue.Stats()
	_, _ = fmt.Fprintf(out, "enqueued %d, completed %d, failed %d (timeouts %d), overflows %d, waiting %d\n",
		s.Enqueued, s.Completed, s.Failed, s.Timeouts, s.Overflows, a.queue.Len())
	if a.actor != nil {
		m := a.actor.GetMetrics()
		_, _ = fmt.Fprintf(out, "polls %d, sleep events %d\n", m.PollCycles, m.SleepEvents)
	}
	_, _ = fmt.Fprintf(out, "busy slots %d\n", a.device.BusySlots())
	return nil
}

// flushQueue waits for queued commands so one-shot invocations see their
// outcome before exiting.
func flushQueue(ctx context.Context, q *i2c.Queue) error {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		return fmt.Errorf("waiting for transfers: %w", err)
	}
	return nil
}

func newShell(a *app) *ishell.Shell {
	sh := ishell.New()
	sh.SetPrompt("actuator > ")
	for _, cmd := range commands {
		help := cmd.help
		if cmd.usage != "" {
			help = cmd.usage + ": " + help
		}
		sh.AddCmd(&ishell.Cmd{
			Name:    cmd.name,
			Aliases: cmd.aliases,
			Help:    help,
			Func: func(c *ishell.Context) {
				var out strings.Builder
				if err := cmd.run(a, c.Args, &out); err != nil {
					c.Err(err)
					if actuator.IsFatal(err) {
						c.Println("bus is unusable, restart actuatorctl")
					}
					return
				}
				c.Print(out.String())
			},
		})
	}
	return sh
}

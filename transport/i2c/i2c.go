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

package i2c

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// parseI2CPath extracts the bus name from a composite path.
// Accepts "/dev/i2c-1:0x1C" or "/dev/i2c-1" (bare bus).
func parseI2CPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// InitHost loads the periph host drivers, registering the buses of the
// machine. It is safe to call more than once.
func InitHost() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return nil
}

// Open initializes the periph host drivers and opens the named bus. An empty
// name selects the first registered bus. The caller owns the returned bus and
// must close it after the queue using it was closed.
func Open(busName string) (i2c.BusCloser, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}

	// Open I2C bus (strip address suffix)
	bus, err := i2creg.Open(parseI2CPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}
	return bus, nil
}

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
package spi

import (
	"fmt"

	"github.com/ZaparooProject/go-sdspi/detection"
	"github.com/ZaparooProject/go-sdspi/transport/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// FT232HDevice is the slot path used for FTDI FT232H bridges.
const FT232HDevice = "ft232h"

// detectFTDIBridges lists attached FT232H bridges. periph only drives the
// first one, so at most one slot is returned.
func detectFTDIBridges() []Config {
	if _, err := host.Init(); err != nil {
		return nil
	}

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		if _, ok := dev.(*ftdi.FT232H); !ok {
			continue
		}
		dev.Info(&info)
		return []Config{{
			Device: FT232HDevice,
			Name:   "SD card slot on " + dev.String(),
			Metadata: map[string]string{
				"vidpid": detection.ParseVIDPID(fmt.Sprintf("%04x:%04x", info.VenID, info.DevID)),
				"chip":   info.Type,
			},
		}}
	}
	return nil
}

// openSlot opens the transport for a slot configuration.
func openSlot(config Config) (*spi.Bus, error) {
	if config.Device == FT232HDevice {
		return spi.NewFT232H(BusOptions(config)...)
	}
	return spi.New(config.Device, BusOptions(config)...)
}

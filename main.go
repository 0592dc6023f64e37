// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors
//
// Moist - moisture sensor acquisition daemon
//
// Polls a sensor board over a serial link and stores every reading in a
// relational database.

package main

import (
	"os"

	"github.com/fchabrun/moist/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

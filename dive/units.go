// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

// Unit conversion factors.
const (
	MetersPerFoot  = 0.3048
	BarPerPSI      = 0.0689476
	MillibarPerBar = 1000
)

// FeetToMeters converts a length in feet to meters.
func FeetToMeters(ft float64) float64 { return ft * MetersPerFoot }

// FahrenheitToCelsius converts a temperature in °F to °C.
func FahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

// PSIToBar converts a pressure in psi to bar.
func PSIToBar(psi float64) float64 { return psi * BarPerPSI }

// MillibarToBar converts a pressure in millibar to bar.
func MillibarToBar(mbar float64) float64 { return mbar / MillibarPerBar }

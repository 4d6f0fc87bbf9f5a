//go:build tinygo

package main

import "machine"

const (
	// Output configuration
	FRAME_INTERVAL_MS = 100 // One frame per 100 ms, like the real rangefinder
	FRAME_HEADER      = 0xFF

	// Distance potentiometer
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)
	NUM_SAMPLES      = 8    // Potentiometer readings averaged per frame
	MIN_DISTANCE_MM  = 30   // Potentiometer fully counter-clockwise
	MAX_DISTANCE_MM  = 4500 // Potentiometer fully clockwise

	// Fault switches, active low
	PIN_CORRUPT = machine.D7 // Emit frames with a bad checksum
	PIN_SILENT  = machine.D8 // Stop emitting frames

	PIN_DISTANCE_ADC = machine.A1

	// Serial configuration
	// The rangefinder talks 9600 8N1: 4 bytes every 100 ms is 40 bytes/sec,
	// well inside the 960 bytes/sec the line carries.
	UART_BAUD_RATE = 9600
)

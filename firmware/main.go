//go:build tinygo

//go:generate tinygo flash -target=xiao

// Bench emulator for the UART ultrasonic rangefinder. It emits the same
// 4-byte frames as the real sensor, with the distance set by a
// potentiometer or over the serial line ("D1234\n" fixes 1234 mm, "A\n"
// returns to the potentiometer).
package main

import (
	"machine"
	"time"
)

var (
	adcDistance machine.ADC
	uart        = machine.UART0

	// Distance override from the serial line, 0 when the potentiometer is used
	fixedMM uint16

	// Timing
	lastFrame time.Time

	// Serial buffer for reading commands
	serialBuffer [8]byte
	serialPos    int
)

func main() {
	PIN_CORRUPT.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	PIN_SILENT.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	PIN_DISTANCE_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcDistance = machine.ADC{Pin: PIN_DISTANCE_ADC}
	adcDistance.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastFrame = time.Now()

	for {
		now := time.Now()

		processSerial()

		if now.Sub(lastFrame) >= FRAME_INTERVAL_MS*time.Millisecond {
			lastFrame = now
			if PIN_SILENT.Get() {
				writeFrame(distanceMM(), !PIN_CORRUPT.Get())
			}
		}

		time.Sleep(500 * time.Microsecond)
	}
}

// distanceMM returns the override or the averaged potentiometer position
// mapped onto the sensor's range.
func distanceMM() uint16 {
	if fixedMM != 0 {
		return fixedMM
	}

	var sum uint32
	for range NUM_SAMPLES {
		sum += uint32(adcDistance.Get() >> (16 - ADC_RESOLUTION))
	}
	raw := sum / NUM_SAMPLES
	span := uint32(MAX_DISTANCE_MM - MIN_DISTANCE_MM)
	return uint16(MIN_DISTANCE_MM + raw*span/((1<<ADC_RESOLUTION)-1))
}

// writeFrame sends header, high byte, low byte and the low byte of their sum.
func writeFrame(mm uint16, corrupt bool) {
	hi := byte(mm >> 8)
	lo := byte(mm)
	sum := byte((FRAME_HEADER + uint16(hi) + uint16(lo)) & 0xFF)
	if corrupt {
		sum++
	}
	uart.Write([]byte{FRAME_HEADER, hi, lo, sum})
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				handleCommand(serialBuffer[:serialPos])
			}
			serialPos = 0
			continue
		}

		if data == ' ' || data == '\t' {
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Overlong line, drop it
			serialPos = 0
		}
	}
}

func handleCommand(cmd []byte) {
	switch cmd[0] {
	case 'A', 'a':
		fixedMM = 0
	case 'D', 'd':
		var mm uint32
		for _, c := range cmd[1:] {
			if c < '0' || c > '9' {
				return
			}
			mm = mm*10 + uint32(c-'0')
		}
		if mm == 0 || mm > 0xFFFF {
			return
		}
		fixedMM = uint16(mm)
	}
}

package ultrasonic

import "github.com/pkg/errors"

const (
	// Header starts every frame.
	Header byte = 0xFF
	// FrameSize is header, distance high byte, distance low byte, checksum.
	FrameSize = 4
	// MMToInch converts the sensor's millimetres to inches.
	MMToInch = 0.0393700787
)

var (
	// ErrChecksum is returned when a frame's checksum byte does not match.
	ErrChecksum = errors.New("frame checksum mismatch")
	// ErrHeader is returned when a frame does not start with Header.
	ErrHeader = errors.New("frame header missing")
)

// Checksum returns the low byte of header + hi + lo.
func Checksum(hi, lo byte) byte {
	return byte((int(Header) + int(hi) + int(lo)) & 0xFF)
}

// EncodeFrame builds the frame a sensor emits for a distance in millimetres.
func EncodeFrame(mm uint16) [FrameSize]byte {
	hi := byte(mm >> 8)
	lo := byte(mm)
	return [FrameSize]byte{Header, hi, lo, Checksum(hi, lo)}
}

// DecodeFrame validates f and returns the distance in millimetres.
func DecodeFrame(f [FrameSize]byte) (uint16, error) {
	if f[0] != Header {
		return 0, ErrHeader
	}
	if Checksum(f[1], f[2]) != f[3] {
		return 0, errors.Wrapf(ErrChecksum, "got 0x%02X want 0x%02X", f[3], Checksum(f[1], f[2]))
	}
	return uint16(f[1])<<8 | uint16(f[2]), nil
}

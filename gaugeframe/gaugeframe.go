// Package gaugeframe parses the ASCII telemetry frames emitted by a
// serial-attached battery fuel gauge. A frame looks like
//
//	$L=78,V=3805,T=24.5,C=0*5A
//
// where the trailing hex byte is a CRC-8 over the payload between '$'
// and '*'.
package gaugeframe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/drainwatch/drainwatch/estimator"
	"github.com/sigurn/crc8"
)

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31, // Polynomial 1 + x^4 + x^5 + x^8
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

var (
	ErrBadChecksum = errors.New("bad checksum")
	ErrBadFrame    = errors.New("malformed frame")
)

// Parse decodes one frame into a sample. The sample's timestamp is left
// zero; the caller stamps it on receipt. Out-of-range values are not
// rejected here, only syntax and checksum.
func Parse(line string) (estimator.Sample, error) {
	var s estimator.Sample

	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return s, ErrBadFrame
	}
	body := line[1:]
	star := strings.LastIndexByte(body, '*')
	if star < 0 || star+3 != len(body) {
		return s, ErrBadFrame
	}
	payload := body[:star]

	want, err := strconv.ParseUint(body[star+1:], 16, 8)
	if err != nil {
		return s, ErrBadFrame
	}
	if crc8.Checksum([]byte(payload), crcTable) != byte(want) {
		return s, ErrBadChecksum
	}

	seen := map[string]bool{}
	for _, field := range strings.Split(payload, ",") {
		key, value, found := strings.Cut(field, "=")
		if !found {
			return s, fmt.Errorf("%w: field %q", ErrBadFrame, field)
		}
		switch key {
		case "L":
			s.Level, err = strconv.Atoi(value)
		case "V":
			s.VoltageMv, err = strconv.Atoi(value)
		case "T":
			s.Temperature, err = strconv.ParseFloat(value, 64)
		case "C":
			var c int
			c, err = strconv.Atoi(value)
			s.Charging = c != 0
		default:
			return s, fmt.Errorf("%w: unknown field %q", ErrBadFrame, key)
		}
		if err != nil {
			return s, fmt.Errorf("%w: field %q: %v", ErrBadFrame, field, err)
		}
		seen[key] = true
	}
	for _, key := range []string{"L", "V", "T", "C"} {
		if !seen[key] {
			return s, fmt.Errorf("%w: missing field %q", ErrBadFrame, key)
		}
	}
	return s, nil
}

// Encode builds a frame for a sample, used by the bench simulator and
// tests. The timestamp is not part of the wire format.
func Encode(s estimator.Sample) string {
	charging := 0
	if s.Charging {
		charging = 1
	}
	payload := fmt.Sprintf("L=%d,V=%d,T=%.1f,C=%d", s.Level, s.VoltageMv, s.Temperature, charging)
	return fmt.Sprintf("$%s*%02X", payload, crc8.Checksum([]byte(payload), crcTable))
}

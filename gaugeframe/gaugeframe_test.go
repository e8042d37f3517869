package gaugeframe

import (
	"fmt"
	"testing"

	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drainwatch/drainwatch/estimator"
)

func checksumHex(payload string) string {
	return fmt.Sprintf("%02X", crc8.Checksum([]byte(payload), crcTable))
}

func TestEncodeParseRoundTrip(t *testing.T) {
	in := estimator.Sample{
		Level:       78,
		VoltageMv:   3805,
		Temperature: 24.5,
		Charging:    false,
	}
	frame := Encode(in)
	out, err := Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	in.Charging = true
	out, err = Parse(Encode(in))
	require.NoError(t, err)
	assert.True(t, out.Charging)
}

func TestParseTrimsWhitespace(t *testing.T) {
	frame := Encode(estimator.Sample{Level: 50, VoltageMv: 3700, Temperature: 20.0})
	out, err := Parse("  " + frame + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, 50, out.Level)
}

func TestParseBadChecksum(t *testing.T) {
	frame := Encode(estimator.Sample{Level: 78, VoltageMv: 3805, Temperature: 24.5})
	// Tamper with the payload but keep the original checksum.
	tampered := "$L=79" + frame[5:]
	_, err := Parse(tampered)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestParseMalformedFrames(t *testing.T) {
	malformed := []string{
		"",
		"L=78,V=3805,T=24.5,C=0*5A", // missing '$'
		"$L=78,V=3805,T=24.5,C=0",   // missing checksum
		"$L=78,V=3805,T=24.5,C=0*Z9",
		"$L=78*",
	}
	for _, line := range malformed {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrBadFrame, "frame %q", line)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	payload := "L=78,T=24.5,C=0"
	_, err := Parse("$" + payload + "*" + checksumHex(payload))
	assert.ErrorIs(t, err, ErrBadFrame)

	payload = "L=78,V=3805,T=24.5,C=0,X=1"
	_, err = Parse("$" + payload + "*" + checksumHex(payload))
	assert.ErrorIs(t, err, ErrBadFrame)

	payload = "L=abc,V=3805,T=24.5,C=0"
	_, err = Parse("$" + payload + "*" + checksumHex(payload))
	assert.ErrorIs(t, err, ErrBadFrame)
}

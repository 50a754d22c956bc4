package location

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix = "$GPGGA,123519,4807.038,N,01131.000,E,0,00,,,M,,M,,*52"
	rmcFix   = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	rmcVoid  = "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"
	gsv      = "$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74"
)

func TestParseSentence(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
	}{
		{"gga fix", ggaFix, true},
		{"gga without fix", ggaNoFix, false},
		{"rmc fix", rmcFix, true},
		{"rmc void", rmcVoid, false},
		{"other sentence", gsv, false},
		{"bad checksum", strings.Replace(ggaFix, "*47", "*00", 1), false},
		{"noise", "garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, ok := parseSentence(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, 48.1173, loc.Latitude, 1e-4)
				assert.InDelta(t, 11.516667, loc.Longitude, 1e-4)
			}
		})
	}
}

func TestReadFix_SkipsUntilValidSentence(t *testing.T) {
	input := strings.Join([]string{"", "garbage", gsv, ggaNoFix, rmcVoid, ggaFix}, "\r\n")

	loc, err := readFix(strings.NewReader(input))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, loc.Accuracy, 1e-9)
	assert.InDelta(t, 48.1173, loc.Coordinate().Latitude, 1e-4)
}

func TestReadFix_NoFix(t *testing.T) {
	_, err := readFix(strings.NewReader(strings.Join([]string{gsv, ggaNoFix}, "\n")))
	assert.ErrorIs(t, err, ErrNoFix)
}

func TestDeviceSensorProvider_MissingPort(t *testing.T) {
	p := NewDeviceSensorProvider("/dev/does-not-exist-gps", 9600)
	_, err := p.GetLocation(context.Background())
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(52, 4)
	loc, err := p.GetLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Location{Latitude: 52, Longitude: 4}, loc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetLocation(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseWiFiList(t *testing.T) {
	output := `AA\:BB\:CC\:DD\:EE\:FF:72
00\:14\:22\:01\:23\:45:40
broken line
11\:22\:33:50
00\:14\:22\:01\:23\:46:notanumber
`
	aps, err := parseWiFiList(output)
	require.NoError(t, err)
	require.Len(t, aps, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", aps[0].MACAddress)
	assert.Equal(t, 72.0, aps[0].SignalStrength)
	assert.Equal(t, "00:14:22:01:23:45", aps[1].MACAddress)
}

func TestParseCellInfo(t *testing.T) {
	output := `modem.3gpp.mcc : 204
modem.3gpp.mnc : 8
modem.3gpp.lac : 1A2B
modem.3gpp.cid : 00FF
other.key : value
`
	towers, err := parseCellInfo(output)
	require.NoError(t, err)
	require.Len(t, towers, 1)
	assert.Equal(t, 204, towers[0].MobileCountryCode)
	assert.Equal(t, 8, towers[0].MobileNetworkCode)
	assert.Equal(t, 0x1A2B, towers[0].LocationAreaCode)
	assert.Equal(t, 0xFF, towers[0].CellID)

	_, err = parseCellInfo("modem.3gpp.lac : 1A2B\n")
	assert.Error(t, err)
}

func TestIsValidMAC(t *testing.T) {
	assert.True(t, isValidMAC("ff:ff:ff:ff:ff:ff"))
	assert.False(t, isValidMAC("ff:ff:ff:ff:ff"))
	assert.False(t, isValidMAC("gg:ff:ff:ff:ff:ff"))
}

package netmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeBySSIDDropsHiddenAndKeepsStrongest(t *testing.T) {
	in := []WiFiNetwork{
		{SSID: "cafe", SignalPercent: 40},
		{SSID: "", SignalPercent: 90},
		{SSID: "cafe", SignalPercent: 85},
		{SSID: "home", SignalPercent: 60},
	}

	out := dedupeBySSID(in)

	assert.Len(t, out, 2)
	assert.Equal(t, "cafe", out[0].SSID)
	assert.Equal(t, 85, out[0].SignalPercent)
	assert.Equal(t, "home", out[1].SSID)
}

func TestDedupeBySSIDPreservesFirstSeenOrder(t *testing.T) {
	in := []WiFiNetwork{
		{SSID: "b", SignalPercent: 10},
		{SSID: "a", SignalPercent: 20},
		{SSID: "b", SignalPercent: 50},
	}

	out := dedupeBySSID(in)

	assert.Equal(t, []string{"b", "a"}, []string{out[0].SSID, out[1].SSID})
}

func TestParseSecurity(t *testing.T) {
	cases := map[string]Security{
		"":                SecurityOpen,
		"--":              SecurityOpen,
		"WPA2":            SecurityWPA2,
		"WPA3":            SecurityWPA3,
		"WEP":             SecurityWEP,
		"unrecognized-xx": SecurityWPA,
	}
	for input, want := range cases {
		assert.Equal(t, want, parseSecurity(input), "input=%q", input)
	}
}

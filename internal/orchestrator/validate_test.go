package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConnectInput(t *testing.T) {
	cases := []struct {
		name    string
		ssid    string
		psk     string
		wantErr bool
	}{
		{"valid open network", "CoffeeShop", "", false},
		{"valid secured network", "CoffeeShop", "hunter222", false},
		{"empty ssid rejected", "", "hunter222", true},
		{"oversized ssid rejected", strings.Repeat("a", 33), "", true},
		{"short psk rejected", "CoffeeShop", "short", true},
		{"oversized psk rejected", "CoffeeShop", strings.Repeat("a", 64), true},
		{"shell metacharacter in ssid rejected", "Coffee;Shop", "", true},
		{"shell metacharacter in psk rejected", "CoffeeShop", "hunter$(whoami)", true},
		{"control character rejected", "Coffee\nShop", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateConnectInput(tc.ssid, tc.psk)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

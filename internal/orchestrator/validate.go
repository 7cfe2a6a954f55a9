package orchestrator

import (
	"strings"

	"github.com/pamir-ai-pkgs/distiller-services/internal/apperror"
)

const shellMeta = ";&|`$\n"

// validateConnectInput enforces spec §4.F step 1: SSID 1-32 bytes, no NUL;
// PSK empty (open) or 8-63 bytes; no ASCII control characters or shell
// metacharacters in either field.
func validateConnectInput(ssid, psk string) error {
	if err := validateField("ssid", ssid, 1, 32); err != nil {
		return err
	}
	if psk != "" {
		if err := validateField("password", psk, 8, 63); err != nil {
			return err
		}
	}
	return nil
}

func validateField(name, value string, min, max int) error {
	if len(value) < min || len(value) > max {
		return apperror.New(apperror.BadInput, name+" length out of range")
	}
	for _, b := range []byte(value) {
		if b == 0 || b < 0x20 {
			return apperror.New(apperror.BadInput, name+" contains a control character")
		}
	}
	if strings.ContainsAny(value, shellMeta) {
		return apperror.New(apperror.BadInput, name+" contains a disallowed character")
	}
	return nil
}

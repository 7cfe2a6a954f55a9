package orchestrator

import (
	"crypto/rand"
	"math/big"
)

// safeAPPasswordAlphabet avoids characters that are easy to mis-key on a
// small display/keyboard (no 0/O, 1/l/I) while still drawing from a large
// enough set that 12 characters gives comfortable entropy.
const safeAPPasswordAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#%*+="

const apPasswordLength = 12

// generateAPPassword draws a fresh 12-character password from a CSPRNG, per
// spec §3/§4.F invariant 4: every AP_MODE entry gets a new one.
func generateAPPassword() (string, error) {
	alphabet := []rune(safeAPPasswordAlphabet)
	out := make([]rune, apPasswordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

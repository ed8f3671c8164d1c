package ops

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

var ErrSumFormat = fmt.Errorf("sum must be sha256 hex or b2 base58")

// decodeSumArgs resolves the sha256/b2 keyword pair an origin builtin
// accepts into one (algo, sum) value. At most one may be given.
func decodeSumArgs(sha256, b2 string) (string, []byte, error) {
	switch {
	case sha256 != "" && b2 != "":
		return "", nil, fmt.Errorf("%w: both sha256 and b2 given", ErrSumFormat)
	case sha256 != "":
		data, err := hex.DecodeString(sha256)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s", ErrSumFormat, err)
		}

		return "sha256", data, nil
	case b2 != "":
		data, err := base58.Decode(b2)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s", ErrSumFormat, err)
		}

		return "b2", data, nil
	default:
		return "", nil, nil
	}
}

// encodeSum renders just the sum digits, hex for sha256 and base58
// for everything else.
func encodeSum(algo string, sum []byte) string {
	if algo == "sha256" {
		return hex.EncodeToString(sum)
	}

	return base58.Encode(sum)
}

// renderSum is the printable form used in errors and signatures.
func renderSum(algo string, sum []byte) string {
	return algo + ":" + encodeSum(algo, sum)
}

func sumEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

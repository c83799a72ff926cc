package infra

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
)

// ParseQuantity parses a decimal or 0x-prefixed hexadecimal integer.
// Empty or blank input is zero.
func ParseQuantity(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" || s == "0X" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(s, "-") {
		return nil, errors.Errorf("negative quantity %q", s)
	}

	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, errors.Errorf("invalid quantity %q", s)
	}
	return v, nil
}

func parseUint64(s string) (uint64, error) {
	v, err := ParseQuantity(s)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, errors.Errorf("quantity %q overflows uint64", s)
	}
	return v.Uint64(), nil
}

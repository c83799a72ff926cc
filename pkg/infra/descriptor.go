package infra

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Descriptor is the unsigned transaction returned by the service for a
// method call. Quantities are kept exactly as received and only parsed
// when the transaction is built for signing.
type Descriptor struct {
	ID       string
	Nonce    string
	GasPrice string
	GasLimit string
	To       string
	Value    string
	Data     string
	From     string
}

// WithNonce returns a copy of the descriptor carrying a different sequence number
func (d Descriptor) WithNonce(nonce string) *Descriptor {
	d.Nonce = nonce
	return &d
}

// LegacyTx builds the transaction to be signed
func (d *Descriptor) LegacyTx() (*types.LegacyTx, error) {
	nonce, err := parseUint64(d.Nonce)
	if err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	gasPrice, err := ParseQuantity(d.GasPrice)
	if err != nil {
		return nil, errors.Wrap(err, "gasPrice")
	}
	gasLimit, err := parseUint64(d.GasLimit)
	if err != nil {
		return nil, errors.Wrap(err, "gasLimit")
	}
	value, err := ParseQuantity(d.Value)
	if err != nil {
		return nil, errors.Wrap(err, "value")
	}

	var to *common.Address
	if d.To != "" {
		if !common.IsHexAddress(d.To) {
			return nil, errors.Errorf("invalid recipient address %q", d.To)
		}
		addr := common.HexToAddress(d.To)
		to = &addr
	}

	var data []byte
	if raw := strings.TrimSpace(d.Data); raw != "" && raw != "0x" {
		if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
			raw = "0x" + raw
		}
		data, err = hexutil.Decode(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid data %q", d.Data)
		}
	}

	return &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	}, nil
}

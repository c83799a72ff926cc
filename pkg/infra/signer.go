package infra

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer turns an unsigned descriptor into the payload submitted back to
// the service. Implementations must be deterministic for identical input.
type Signer interface {
	Sign(d *Descriptor) (string, error)
	Address() string
}

// EthSigner signs descriptors as legacy Ethereum transactions
type EthSigner struct {
	key     *ecdsa.PrivateKey
	signer  types.Signer
	address string
}

// NewEthSigner uses EIP-155 replay protection when chainID is set
func NewEthSigner(key *ecdsa.PrivateKey, chainID *big.Int) (*EthSigner, error) {
	if key == nil {
		return nil, ErrNoSigner
	}

	var signer types.Signer = types.HomesteadSigner{}
	if chainID != nil && chainID.Sign() > 0 {
		signer = types.NewEIP155Signer(chainID)
	}

	return &EthSigner{
		key:     key,
		signer:  signer,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

func NewEthSignerFromHex(hexKey string, chainID *big.Int) (*EthSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "fail to load private key")
	}
	return NewEthSigner(key, chainID)
}

func (s *EthSigner) Address() string {
	return s.address
}

// Sign returns the 0x-prefixed RLP encoding of the signed transaction
func (s *EthSigner) Sign(d *Descriptor) (string, error) {
	legacy, err := d.LegacyTx()
	if err != nil {
		return "", errors.Wrapf(err, "fail to build transaction %s", d.ID)
	}

	signed, err := types.SignTx(types.NewTx(legacy), s.signer, s.key)
	if err != nil {
		return "", errors.Wrapf(err, "fail to sign transaction %s", d.ID)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", errors.Wrapf(err, "fail to encode transaction %s", d.ID)
	}
	return hexutil.Encode(raw), nil
}

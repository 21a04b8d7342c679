package core

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// The shared schema stores chain scalars as lowercase hex strings for
// historical compatibility; private schemas store raw bytes. Each query
// picks the representation for its storage variant; the helpers here do
// the conversions, so identical semantic values round-trip through both.

// decodeHash converts raw bytes into a hash, failing when the value does
// not have exactly 32 bytes.
func decodeHash(b []byte) (common.Hash, error) {
	if len(b) != common.HashLength {
		return common.Hash{}, constraintViolation(
			"invalid hash value `%s` has %d bytes instead of %d",
			hex.EncodeToString(b), len(b), common.HashLength)
	}
	return common.BytesToHash(b), nil
}

// decodeAddress converts raw bytes into an address, failing when the value
// does not have exactly 20 bytes.
func decodeAddress(b []byte) (common.Address, error) {
	if len(b) != common.AddressLength {
		return common.Address{}, constraintViolation(
			"invalid address value `%s` has %d bytes instead of %d",
			hex.EncodeToString(b), len(b), common.AddressLength)
	}
	return common.BytesToAddress(b), nil
}

// hexEven renders b as lowercase hex, left-padded to an even number of
// digits. encoding/hex always emits two digits per byte, so padding only
// matters for values that arrive as trimmed numerics.
func hexEven(b []byte) string {
	s := hex.EncodeToString(b)
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return s
}

// hashHex renders a hash the way the shared schema stores it.
func hashHex(h common.Hash) string { return hex.EncodeToString(h[:]) }

// addressHex renders an address the way the shared schema stores it.
func addressHex(a common.Address) string { return hex.EncodeToString(a[:]) }

// u256Bytes returns the minimal big-endian bytes of u, the encoding used
// for numeric transaction columns in private schemas.
func u256Bytes(u *uint256.Int) []byte {
	if u == nil {
		return []byte{0}
	}
	b := u.Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	return b
}

// u256ToNumeric converts an unsigned 256-bit value into the decimal string
// bound into a Postgres numeric column. The unsigned value is reinterpreted
// through its little-endian two's-complement bytes as a signed bignum, so
// amounts with the top bit set come out negative in the database but yield
// the original value when read back through numericToU256.
func u256ToNumeric(u *uint256.Int) string {
	le := make([]byte, 32)
	be := u.Bytes32()
	for i := 0; i < 32; i++ {
		le[i] = be[31-i]
	}
	return signedBytesLEToBig(le).String()
}

// numericToU256 inverts u256ToNumeric: the signed decimal is reduced
// modulo 2^256 back to the unsigned value.
func numericToU256(s string) (*uint256.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, constraintViolation("invalid numeric value %q", s)
	}
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	if n.CmpAbs(mod) >= 0 {
		return nil, constraintViolation("numeric value %q does not fit into 256 bits", s)
	}
	u, overflow := uint256.FromBig(new(big.Int).Mod(n, mod))
	if overflow {
		return nil, constraintViolation("numeric value %q does not fit into 256 bits", s)
	}
	return u, nil
}

// signedBytesLEToBig interprets b as a little-endian two's-complement
// integer.
func signedBytesLEToBig(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	n := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		// negative: subtract 2^(8*len)
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(b)))
		n.Sub(n, mod)
	}
	return n
}

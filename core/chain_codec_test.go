package core

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestDecodeHashLength(t *testing.T) {
	if _, err := decodeHash(make([]byte, 31)); !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation for 31 bytes, got %v", err)
	}
	if _, err := decodeHash(make([]byte, 33)); !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation for 33 bytes, got %v", err)
	}
	raw := make([]byte, 32)
	raw[31] = 0x01
	h, err := decodeHash(raw)
	if err != nil {
		t.Fatalf("decodeHash failed: %v", err)
	}
	if h[31] != 0x01 {
		t.Fatalf("hash bytes not preserved")
	}
}

func TestDecodeAddressLength(t *testing.T) {
	if _, err := decodeAddress(make([]byte, 19)); !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation for 19 bytes, got %v", err)
	}
	if _, err := decodeAddress(make([]byte, 20)); err != nil {
		t.Fatalf("decodeAddress failed: %v", err)
	}
}

func TestHexEven(t *testing.T) {
	if got := hexEven([]byte{0x01, 0x23}); got != "0123" {
		t.Fatalf("hexEven=%q want 0123", got)
	}
	if got := hexEven(nil); got != "" {
		t.Fatalf("hexEven(nil)=%q want empty", got)
	}
}

func TestU64Bytes(t *testing.T) {
	if got := u64Bytes(0); len(got) != 1 || got[0] != 0 {
		t.Fatalf("u64Bytes(0)=%x", got)
	}
	if got := u64Bytes(0x1ff); len(got) != 2 || got[0] != 0x01 || got[1] != 0xff {
		t.Fatalf("u64Bytes(0x1ff)=%x", got)
	}
}

// The numeric encoding reinterprets the unsigned value through signed
// little-endian bytes; reading it back must always yield the original.
func TestU256NumericRoundTrip(t *testing.T) {
	cases := []*uint256.Int{
		uint256.NewInt(0),
		uint256.NewInt(1),
		uint256.NewInt(1).Lsh(uint256.NewInt(1), 200),
		uint256.NewInt(1).Lsh(uint256.NewInt(1), 255),
		new(uint256.Int).Sub(new(uint256.Int), uint256.NewInt(1)), // 2^256 - 1
	}
	for _, u := range cases {
		s := u256ToNumeric(u)
		back, err := numericToU256(s)
		if err != nil {
			t.Fatalf("numericToU256(%s) failed: %v", s, err)
		}
		if !back.Eq(u) {
			t.Fatalf("round trip %s -> %s -> %s", u.Dec(), s, back.Dec())
		}
	}
}

// Values with the top bit set come out negative in the database.
func TestU256NumericSignReinterpretation(t *testing.T) {
	top := uint256.NewInt(1).Lsh(uint256.NewInt(1), 255)
	s := u256ToNumeric(top)
	if !strings.HasPrefix(s, "-") {
		t.Fatalf("expected negative decimal for 2^255, got %s", s)
	}
	small := uint256.NewInt(42)
	if got := u256ToNumeric(small); got != "42" {
		t.Fatalf("u256ToNumeric(42)=%s", got)
	}
}

func TestNumericToU256Invalid(t *testing.T) {
	if _, err := numericToU256("not-a-number"); !IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	// 2^256 is out of range either way
	s := "115792089237316195423570985008687907853269984665640564039457584007913129639936"
	if _, err := numericToU256(s); !IsConstraintViolation(err) {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
}

func TestU256Bytes(t *testing.T) {
	if got := u256Bytes(nil); len(got) != 1 || got[0] != 0 {
		t.Fatalf("u256Bytes(nil)=%x", got)
	}
	if got := u256Bytes(uint256.NewInt(0x0102)); len(got) != 2 || got[0] != 0x01 {
		t.Fatalf("u256Bytes(0x0102)=%x", got)
	}
}

package core

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestContractCallIDStable(t *testing.T) {
	contract := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	block := BlockPtr{Hash: common.HexToHash("0x02"), Number: 2}
	call := []byte("foo")

	a := contractCallID(contract, call, block)
	b := contractCallID(contract, call, block)
	if a != b {
		t.Fatalf("same inputs must yield the same id")
	}
}

func TestContractCallIDDiscriminates(t *testing.T) {
	contract := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	other := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	blockB := BlockPtr{Hash: common.HexToHash("0x0b"), Number: 2}
	blockA := BlockPtr{Hash: common.HexToHash("0x0a"), Number: 1}

	base := contractCallID(contract, []byte("foo"), blockB)
	if contractCallID(contract, []byte("foo"), blockA) == base {
		t.Fatalf("different block hashes must yield different ids")
	}
	if contractCallID(other, []byte("foo"), blockB) == base {
		t.Fatalf("different contracts must yield different ids")
	}
	if contractCallID(contract, []byte("bar"), blockB) == base {
		t.Fatalf("different calls must yield different ids")
	}
}

func TestContractCallIDWidth(t *testing.T) {
	id := contractCallID(common.Address{}, nil, BlockPtr{})
	if len(id) != 32 {
		t.Fatalf("id must be 32 bytes, got %d", len(id))
	}
	if bytes.Equal(id[:], make([]byte, 32)) {
		t.Fatalf("id of zero inputs must not be all-zero")
	}
}

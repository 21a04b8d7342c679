package core

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

func u64p(v uint64) *hexutil.Uint64 {
	h := hexutil.Uint64(v)
	return &h
}

func TestBlockPtr(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 0xab
	ptr, err := NewBlockPtr(raw, 7)
	if err != nil {
		t.Fatalf("NewBlockPtr failed: %v", err)
	}
	if ptr.Number != 7 {
		t.Fatalf("number=%d", ptr.Number)
	}
	if ptr.HashHex()[:2] != "ab" {
		t.Fatalf("hash hex=%s", ptr.HashHex())
	}
	if _, err := NewBlockPtr(raw[:16], 7); !IsConstraintViolation(err) {
		t.Fatalf("short hash must be rejected, got %v", err)
	}
}

func TestParseHash(t *testing.T) {
	want := common.HexToHash("0x01")
	for _, s := range []string{want.Hex(), want.Hex()[2:]} {
		h, err := ParseHash(s)
		if err != nil {
			t.Fatalf("ParseHash(%q) failed: %v", s, err)
		}
		if h != want {
			t.Fatalf("ParseHash(%q)=%s", s, h.Hex())
		}
	}
	if _, err := ParseHash("zz"); !IsConstraintViolation(err) {
		t.Fatalf("invalid hex must be rejected, got %v", err)
	}
	if _, err := ParseHash("abcd"); !IsConstraintViolation(err) {
		t.Fatalf("short hash must be rejected, got %v", err)
	}
}

func TestLightBlockPtr(t *testing.T) {
	b := &LightBlock{}
	if _, err := b.Ptr(); !IsConstraintViolation(err) {
		t.Fatalf("block without hash/number must be rejected, got %v", err)
	}
	h := common.HexToHash("0x0a")
	b.Hash = &h
	b.Number = u64p(1)
	ptr, err := b.Ptr()
	if err != nil {
		t.Fatalf("Ptr failed: %v", err)
	}
	if ptr.Number != 1 || ptr.Hash != h {
		t.Fatalf("ptr=%+v", ptr)
	}
}

// Stored payloads must survive a serialize/deserialize cycle with all
// embedded transactions and receipts intact.
func TestEthereumBlockJSONRoundTrip(t *testing.T) {
	hash := common.HexToHash("0x0b")
	parent := common.HexToHash("0x0a")
	to := common.HexToAddress("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	logIndex := u64p(0)
	removed := false

	block := &EthereumBlock{
		Block: &LightBlock{
			Hash:       &hash,
			Number:     u64p(2),
			ParentHash: parent,
			Timestamp:  hexutil.Uint64(1700000000),
			Transactions: []*Transaction{{
				Hash:             common.HexToHash("0x0d"),
				From:             common.HexToAddress("0x01"),
				To:               &to,
				Value:            uint256.NewInt(1000),
				Gas:              hexutil.Uint64(21000),
				GasPrice:         hexutil.Uint64(7),
				Input:            hexutil.Bytes{0x01, 0x02},
				Nonce:            hexutil.Uint64(4),
				TransactionIndex: u64p(0),
			}},
		},
		TransactionReceipts: []*Receipt{{
			TransactionHash:   common.HexToHash("0x0d"),
			TransactionIndex:  hexutil.Uint64(0),
			BlockHash:         &hash,
			BlockNumber:       u64p(2),
			CumulativeGasUsed: hexutil.Uint64(21000),
			EffectiveGasUsed:  hexutil.Uint64(7),
			Logs: []*Log{{
				Address:  to,
				Topics:   []common.Hash{common.HexToHash("0x0c")},
				Data:     hexutil.Bytes{0xff},
				LogIndex: logIndex,
				Removed:  &removed,
			}},
		}},
	}

	data, err := json.Marshal(block)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back EthereumBlock
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if *back.Block.Hash != hash || int64(*back.Block.Number) != 2 {
		t.Fatalf("block identity lost: %+v", back.Block)
	}
	if len(back.Block.Transactions) != 1 {
		t.Fatalf("transactions lost")
	}
	tx := back.Block.Transactions[0]
	if tx.Value == nil || !tx.Value.Eq(uint256.NewInt(1000)) {
		t.Fatalf("value lost: %v", tx.Value)
	}
	if tx.To == nil || *tx.To != to {
		t.Fatalf("to lost: %v", tx.To)
	}
	if len(back.TransactionReceipts) != 1 || len(back.TransactionReceipts[0].Logs) != 1 {
		t.Fatalf("receipts lost")
	}
	if back.TransactionReceipts[0].Logs[0].Topics[0] != common.HexToHash("0x0c") {
		t.Fatalf("topics lost")
	}
}

func TestReceiptRowID(t *testing.T) {
	tx := common.HexToHash("0x0d")
	a := receiptRowID(tx, 0)
	b := receiptRowID(tx, 1)
	if len(a) != 40 || len(b) != 40 {
		t.Fatalf("row id must be 40 bytes")
	}
	if string(a) == string(b) {
		t.Fatalf("log index must discriminate row ids")
	}
}

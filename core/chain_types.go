package core

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// BlockPtr identifies a block by hash and number. Blocks are totally
// ordered by number; identity is the hash.
type BlockPtr struct {
	Hash   common.Hash
	Number int64
}

// NewBlockPtr builds a pointer from a raw hash value. It fails when the
// hash is not exactly 32 bytes.
func NewBlockPtr(hash []byte, number int64) (BlockPtr, error) {
	h, err := decodeHash(hash)
	if err != nil {
		return BlockPtr{}, err
	}
	return BlockPtr{Hash: h, Number: number}, nil
}

// HashHex renders the block hash as lowercase hex without the 0x prefix,
// the representation used by the shared-schema columns.
func (p BlockPtr) HashHex() string { return hex.EncodeToString(p.Hash[:]) }

// HashBytes returns the raw 32 hash bytes.
func (p BlockPtr) HashBytes() []byte { return p.Hash[:] }

func (p BlockPtr) String() string { return p.HashHex() }

// ParseHash decodes a 32-byte hash from hex, with or without the 0x
// prefix.
func ParseHash(s string) (common.Hash, error) { return parseHashHex(s) }

// parseHashHex decodes a 32-byte hash from lowercase hex, with or without
// the 0x prefix.
func parseHashHex(s string) (common.Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, constraintViolation("invalid hash hex %q: %v", s, err)
	}
	return decodeHash(raw)
}

// Transaction is a transaction as embedded in a block payload. The JSON
// field names follow the Ethereum RPC wire encoding so that stored
// payloads can be inspected with plain jsonb operators.
type Transaction struct {
	Hash                 common.Hash     `json:"hash"`
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to"`
	Value                *uint256.Int    `json:"value"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             hexutil.Uint64  `json:"gasPrice"`
	Input                hexutil.Bytes   `json:"input"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	TransactionIndex     *hexutil.Uint64 `json:"transactionIndex"`
	TrxType              hexutil.Uint64  `json:"type"`
	MaxFeePerGas         *hexutil.Uint64 `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Uint64 `json:"maxPriorityFeePerGas"`
}

// Log is a single log entry of a transaction receipt.
type Log struct {
	Address          common.Address  `json:"address"`
	Topics           []common.Hash   `json:"topics"`
	Data             hexutil.Bytes   `json:"data"`
	LogIndex         *hexutil.Uint64 `json:"logIndex"`
	LogType          *string         `json:"logType"`
	Removed          *bool           `json:"removed"`
	TransactionHash  *common.Hash    `json:"transactionHash"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
}

// Receipt is a full transaction receipt with its logs.
type Receipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	TransactionIndex  hexutil.Uint64  `json:"transactionIndex"`
	BlockHash         *common.Hash    `json:"blockHash"`
	BlockNumber       *hexutil.Uint64 `json:"blockNumber"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	EffectiveGasUsed  hexutil.Uint64  `json:"effectiveGasUsed"`
	GasUsed           *hexutil.Uint64 `json:"gasUsed"`
	Status            *hexutil.Uint64 `json:"status"`
	From              *common.Address `json:"from"`
	To                *common.Address `json:"to"`
	Logs              []*Log          `json:"logs"`
}

// LightBlock is a block header together with its transactions but without
// receipts.
type LightBlock struct {
	Hash         *common.Hash    `json:"hash"`
	Number       *hexutil.Uint64 `json:"number"`
	ParentHash   common.Hash     `json:"parentHash"`
	Timestamp    hexutil.Uint64  `json:"timestamp"`
	Transactions []*Transaction  `json:"transactions"`
}

// Ptr returns the block pointer. Hash and number must both be present.
func (b *LightBlock) Ptr() (BlockPtr, error) {
	if b.Hash == nil || b.Number == nil {
		return BlockPtr{}, constraintViolation("block payload is missing hash or number")
	}
	return BlockPtr{Hash: *b.Hash, Number: int64(*b.Number)}, nil
}

// EthereumBlock is the full ingested payload: the block with its
// transactions plus the receipts fetched for them. This is what gets
// serialized into the blocks table's data column.
type EthereumBlock struct {
	Block               *LightBlock `json:"block"`
	TransactionReceipts []*Receipt  `json:"transaction_receipts"`
}

// LightReceipt is the slimmed-down receipt view extracted from stored
// block payloads.
type LightReceipt struct {
	TransactionHash  common.Hash
	TransactionIndex uint64
	BlockHash        common.Hash
	BlockNumber      uint64
	GasUsed          *uint64
	Status           *uint64
}

// NetworkIdentifier carries the identity of a chain as reported by its
// nodes, recorded in the networks registry at creation time.
type NetworkIdentifier struct {
	NetVersion       string
	GenesisBlockHash common.Hash
}

// ChainStatus says whether a chain accepts new blocks.
type ChainStatus int

const (
	// Ingestible chains accept block ingestion and head updates.
	Ingestible ChainStatus = iota
	// ReadOnly chains only serve reads.
	ReadOnly
)

package core

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// u64Bytes returns the minimal big-endian bytes of v, matching the trimmed
// hex encoding used for numeric bytea columns.
func u64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// receiptRowID builds the receipts primary key from the transaction hash
// and the log index.
func receiptRowID(txHash common.Hash, logIndex uint64) []byte {
	id := make([]byte, 0, common.HashLength+8)
	id = append(id, txHash[:]...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], logIndex)
	return append(id, idx[:]...)
}

func nullInt64(v *hexutil.Uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// upsertBlock atomically stores a full block with its transactions and
// receipts. The block row is overwritten on conflict since a later ingest
// may carry receipts that an earlier write did not have; transactions and
// receipts keep the first written row. Shared storage only records the
// transactions, the shared blocks row is written by upsertLightBlock.
func (s Storage) upsertBlock(ctx context.Context, conn sqlx.ExtContext, chain string, block *EthereumBlock) error {
	if block.Block == nil {
		return constraintViolation("block payload has no block")
	}
	ptr, err := block.Block.Ptr()
	if err != nil {
		return err
	}
	data, err := json.Marshal(block)
	if err != nil {
		return constraintViolation("serialize block %s: %v", ptr.HashHex(), err)
	}

	if s.kind == storageShared {
		return s.upsertSharedTransactions(ctx, conn, ptr, block.Block.Transactions)
	}

	q := fmt.Sprintf(
		`insert into %s(hash, number, parent_hash, data) values ($1, $2, $3, $4)
		 on conflict(hash) do update set number = $2, parent_hash = $3, data = $4`,
		s.schema.Blocks())
	if _, err := conn.ExecContext(ctx, q,
		ptr.HashBytes(), ptr.Number, block.Block.ParentHash[:], data); err != nil {
		return queryError("upsert block "+ptr.HashHex(), err)
	}

	if err := s.insertReceipts(ctx, conn, ptr, block.TransactionReceipts); err != nil {
		return err
	}
	return s.insertPrivateTransactions(ctx, conn, ptr, block.Block.Transactions)
}

func (s Storage) upsertSharedTransactions(ctx context.Context, conn sqlx.ExtContext, ptr BlockPtr, txs []*Transaction) error {
	q := `insert into public.ethereum_transactions
	        (hash, block_number, block_hash, "from", value, gas, gas_price, input, nonce, transaction_index)
	      values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	      on conflict(hash) do nothing`
	for _, tx := range txs {
		if tx.TransactionIndex == nil {
			return constraintViolation("transaction %s has no index", tx.Hash.Hex())
		}
		value := "0"
		if tx.Value != nil {
			value = tx.Value.Hex()[2:]
		}
		_, err := conn.ExecContext(ctx, q,
			hashHex(tx.Hash),
			ptr.Number,
			ptr.HashHex(),
			addressHex(tx.From),
			value,
			strconv.FormatUint(uint64(tx.Gas), 16),
			strconv.FormatUint(uint64(tx.GasPrice), 16),
			hex.EncodeToString(tx.Input),
			strconv.FormatUint(uint64(tx.Nonce), 16),
			strconv.FormatUint(uint64(*tx.TransactionIndex), 16),
		)
		if err != nil {
			return queryError("insert shared transaction "+tx.Hash.Hex(), err)
		}
	}
	return nil
}

func (s Storage) insertPrivateTransactions(ctx context.Context, conn sqlx.ExtContext, ptr BlockPtr, txs []*Transaction) error {
	q := fmt.Sprintf(
		`insert into %s
		   (block_hash, block_number, hash, "from", "to", trx_type, value, gas, gas_price,
		    input, nonce, transaction_index, max_fee_per_gas, max_priority_fe_per_gas)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 on conflict(hash) do nothing`,
		s.schema.Transactions())
	for _, tx := range txs {
		if tx.TransactionIndex == nil {
			return constraintViolation("transaction %s has no index", tx.Hash.Hex())
		}
		var to interface{}
		if tx.To != nil {
			to = tx.To[:]
		}
		_, err := conn.ExecContext(ctx, q,
			ptr.HashBytes(),
			ptr.Number,
			tx.Hash[:],
			tx.From[:],
			to,
			int64(tx.TrxType),
			u256Bytes(tx.Value),
			int64(tx.Gas),
			int64(tx.GasPrice),
			[]byte(tx.Input),
			u64Bytes(uint64(tx.Nonce)),
			u64Bytes(uint64(*tx.TransactionIndex)),
			nullInt64(tx.MaxFeePerGas),
			nullInt64(tx.MaxPriorityFeePerGas),
		)
		if err != nil {
			return queryError("insert transaction "+tx.Hash.Hex(), err)
		}
	}
	return nil
}

func (s Storage) insertReceipts(ctx context.Context, conn sqlx.ExtContext, ptr BlockPtr, receipts []*Receipt) error {
	q := fmt.Sprintf(
		`insert into %s
		   (id, block_hash, block_number, data, topics, address, removed, log_index, log_type,
		    transaction_hash, transaction_index, cumulative_gas_used, effective_gas_used,
		    gas_used, "from", "to")
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 on conflict(id) do nothing`,
		s.schema.Receipts())
	for _, receipt := range receipts {
		gasUsed := sql.NullInt64{}
		if receipt.GasUsed != nil {
			gasUsed = sql.NullInt64{Int64: int64(*receipt.GasUsed), Valid: true}
		}
		var from, to interface{}
		if receipt.From != nil {
			from = receipt.From[:]
		}
		if receipt.To != nil {
			to = receipt.To[:]
		}
		for _, lg := range receipt.Logs {
			topics := make([]string, len(lg.Topics))
			for i, t := range lg.Topics {
				topics[i] = hashHex(t)
			}
			var logIndex interface{}
			idx := uint64(0)
			if lg.LogIndex != nil {
				idx = uint64(*lg.LogIndex)
				logIndex = u64Bytes(idx)
			}
			var removed interface{}
			if lg.Removed != nil {
				removed = *lg.Removed
			}
			var logType interface{}
			if lg.LogType != nil {
				logType = *lg.LogType
			}
			_, err := conn.ExecContext(ctx, q,
				receiptRowID(receipt.TransactionHash, idx),
				ptr.HashBytes(),
				ptr.Number,
				[]byte(lg.Data),
				pq.Array(topics),
				lg.Address[:],
				removed,
				logIndex,
				logType,
				receipt.TransactionHash[:],
				u64Bytes(uint64(receipt.TransactionIndex)),
				int64(receipt.CumulativeGasUsed),
				int64(receipt.EffectiveGasUsed),
				gasUsed,
				from,
				to,
			)
			if err != nil {
				return queryError("insert receipt "+receipt.TransactionHash.Hex(), err)
			}
		}
	}
	return nil
}

// upsertLightBlock stores only the block row with on conflict do nothing,
// preserving transaction receipts that an earlier full ingest may have
// written for the same hash.
func (s Storage) upsertLightBlock(ctx context.Context, conn sqlx.ExtContext, chain string, block *LightBlock) error {
	ptr, err := block.Ptr()
	if err != nil {
		return err
	}
	data, err := json.Marshal(&EthereumBlock{Block: block, TransactionReceipts: []*Receipt{}})
	if err != nil {
		return constraintViolation("serialize block %s: %v", ptr.HashHex(), err)
	}

	if s.kind == storageShared {
		q := `insert into public.ethereum_blocks(hash, number, parent_hash, network_name, data)
		      values ($1, $2, $3, $4, $5) on conflict(hash) do nothing`
		_, err := conn.ExecContext(ctx, q,
			ptr.HashHex(), ptr.Number, hashHex(block.ParentHash), chain, data)
		if err != nil {
			return queryError("insert light block "+ptr.HashHex(), err)
		}
		return nil
	}

	q := fmt.Sprintf(
		`insert into %s(hash, number, parent_hash, data) values ($1, $2, $3, $4)
		 on conflict(hash) do nothing`, s.schema.Blocks())
	if _, err := conn.ExecContext(ctx, q,
		ptr.HashBytes(), ptr.Number, block.ParentHash[:], data); err != nil {
		return queryError("insert light block "+ptr.HashHex(), err)
	}
	return nil
}

// blocks loads the embedded block payloads for the given hashes. Hashes
// that are not stored are simply absent from the result.
func (s Storage) blocks(ctx context.Context, conn sqlx.ExtContext, chain string, hashes []common.Hash) ([]*LightBlock, error) {
	var rows *sqlx.Rows
	var err error
	if s.kind == storageShared {
		hexes := make([]string, len(hashes))
		for i, h := range hashes {
			hexes[i] = hashHex(h)
		}
		rows, err = conn.QueryxContext(ctx,
			`select data -> 'block' from public.ethereum_blocks
			  where network_name = $1 and hash = any($2)`,
			chain, pq.Array(hexes))
	} else {
		raw := make([][]byte, len(hashes))
		for i, h := range hashes {
			raw[i] = h.Bytes()
		}
		rows, err = conn.QueryxContext(ctx,
			fmt.Sprintf(`select data -> 'block' from %s where hash = any($1)`, s.schema.Blocks()),
			pq.ByteaArray(raw))
	}
	if err != nil {
		return nil, queryError("load blocks", err)
	}
	defer rows.Close()

	var out []*LightBlock
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, queryError("scan block payload", err)
		}
		var block LightBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return nil, constraintViolation("deserialize block payload: %v", err)
		}
		out = append(out, &block)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("iterate blocks", err)
	}
	return out, nil
}

// blockHashesByBlockNumber returns all hashes stored at the given number;
// more than one hash means a reorg has not been confirmed yet.
func (s Storage) blockHashesByBlockNumber(ctx context.Context, conn sqlx.ExtContext, chain string, number int64) ([]common.Hash, error) {
	if s.kind == storageShared {
		var hexes []string
		err := sqlx.SelectContext(ctx, conn, &hexes,
			`select hash from public.ethereum_blocks where network_name = $1 and number = $2`,
			chain, number)
		if err != nil {
			return nil, queryError("load block hashes", err)
		}
		out := make([]common.Hash, 0, len(hexes))
		for _, h := range hexes {
			hash, err := parseHashHex(h)
			if err != nil {
				return nil, err
			}
			out = append(out, hash)
		}
		return out, nil
	}

	var raw [][]byte
	err := sqlx.SelectContext(ctx, conn, &raw,
		fmt.Sprintf(`select hash from %s where number = $1`, s.schema.Blocks()), number)
	if err != nil {
		return nil, queryError("load block hashes", err)
	}
	out := make([]common.Hash, 0, len(raw))
	for _, b := range raw {
		hash, err := decodeHash(b)
		if err != nil {
			return nil, err
		}
		out = append(out, hash)
	}
	return out, nil
}

// confirmBlockHash deletes all blocks at the given number whose hash
// differs from hash, and reports how many rows went away. This is the
// cheap reorg cleanup at a confirmed depth.
func (s Storage) confirmBlockHash(ctx context.Context, conn sqlx.ExtContext, chain string, number int64, hash common.Hash) (int, error) {
	var res sql.Result
	var err error
	if s.kind == storageShared {
		res, err = conn.ExecContext(ctx,
			`delete from public.ethereum_blocks
			  where network_name = $1 and number = $2 and hash != $3`,
			chain, number, hashHex(hash))
	} else {
		res, err = conn.ExecContext(ctx,
			fmt.Sprintf(`delete from %s where number = $1 and hash != $2`, s.schema.Blocks()),
			number, hash.Bytes())
	}
	if err != nil {
		return 0, queryError("confirm block hash", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryError("confirm block hash", err)
	}
	return int(n), nil
}

// blockNumber returns the number stored for the hash, or nil when the
// block is unknown.
func (s Storage) blockNumber(ctx context.Context, conn sqlx.ExtContext, hash common.Hash) (*int64, error) {
	var number int64
	var err error
	if s.kind == storageShared {
		err = sqlx.GetContext(ctx, conn, &number,
			`select number from public.ethereum_blocks where hash = $1`, hashHex(hash))
	} else {
		err = sqlx.GetContext(ctx, conn, &number,
			fmt.Sprintf(`select number from %s where hash = $1`, s.schema.Blocks()), hash.Bytes())
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("load block number", err)
	}
	return &number, nil
}

// rawReceiptRow is the jsonb extraction row for receipts embedded in a
// stored block payload.
type rawReceiptRow struct {
	TransactionHash  string         `db:"transaction_hash"`
	TransactionIndex string         `db:"transaction_index"`
	BlockHash        string         `db:"block_hash"`
	BlockNumber      string         `db:"block_number"`
	GasUsed          sql.NullString `db:"gas_used"`
	Status           sql.NullString `db:"status"`
}

// findTransactionReceiptsInBlock extracts the receipts embedded in the
// stored payload of the block with the given hash.
func (s Storage) findTransactionReceiptsInBlock(ctx context.Context, conn sqlx.ExtContext, blockHash common.Hash) ([]*LightReceipt, error) {
	q := fmt.Sprintf(`
select receipt ->> 'transactionHash'  as transaction_hash,
       receipt ->> 'transactionIndex' as transaction_index,
       receipt ->> 'blockHash'        as block_hash,
       receipt ->> 'blockNumber'      as block_number,
       receipt ->> 'gasUsed'          as gas_used,
       receipt ->> 'status'           as status
  from (select jsonb_array_elements(data -> 'transaction_receipts') as receipt
          from %s
         where hash = $1) as temp`, s.blocksTableName())

	var raw []rawReceiptRow
	var err error
	// The hash column differs in type between the shared and private
	// blocks tables, so the bind value has to match.
	if s.kind == storageShared {
		err = sqlx.SelectContext(ctx, conn, &raw, q, hashHex(blockHash))
	} else {
		err = sqlx.SelectContext(ctx, conn, &raw, q, blockHash.Bytes())
	}
	if err != nil {
		return nil, queryError("load transaction receipts", err)
	}

	out := make([]*LightReceipt, 0, len(raw))
	for _, row := range raw {
		receipt, err := row.toLightReceipt()
		if err != nil {
			return nil, err
		}
		out = append(out, receipt)
	}
	return out, nil
}

func (r rawReceiptRow) toLightReceipt() (*LightReceipt, error) {
	txHash, err := parseHashHex(r.TransactionHash)
	if err != nil {
		return nil, err
	}
	blockHash, err := parseHashHex(r.BlockHash)
	if err != nil {
		return nil, err
	}
	txIndex, err := hexutil.DecodeUint64(r.TransactionIndex)
	if err != nil {
		return nil, constraintViolation("invalid transaction index %q: %v", r.TransactionIndex, err)
	}
	blockNumber, err := hexutil.DecodeUint64(r.BlockNumber)
	if err != nil {
		return nil, constraintViolation("invalid block number %q: %v", r.BlockNumber, err)
	}
	receipt := &LightReceipt{
		TransactionHash:  txHash,
		TransactionIndex: txIndex,
		BlockHash:        blockHash,
		BlockNumber:      blockNumber,
	}
	if r.GasUsed.Valid {
		v, err := hexutil.DecodeUint64(r.GasUsed.String)
		if err != nil {
			return nil, constraintViolation("invalid gas used %q: %v", r.GasUsed.String, err)
		}
		receipt.GasUsed = &v
	}
	if r.Status.Valid {
		v, err := hexutil.DecodeUint64(r.Status.String)
		if err != nil {
			return nil, constraintViolation("invalid status %q: %v", r.Status.String, err)
		}
		receipt.Status = &v
	}
	return receipt, nil
}

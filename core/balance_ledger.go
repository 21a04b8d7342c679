package core

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
)

// The balance ledger keeps a per-address, per-block-number balance history
// with its own head pointers in public.ethereum_balance. Balance
// materialization runs independently of, and behind, chain ingestion,
// which is why its heads are disjoint from the chain head.

// ErrSharedBalanceUnsupported is returned when a balance write is
// attempted on shared storage, which has no balance table.
var ErrSharedBalanceUnsupported = constraintViolation(
	"balance writes are not supported on shared storage")

// upsertBalance records the balance of an address as of a block. The
// amount is persisted through the signed-bytes reinterpretation so it can
// be read back as the original unsigned 256-bit value.
func (s Storage) upsertBalance(ctx context.Context, conn sqlx.ExtContext, address common.Address, amount *uint256.Int, ptr BlockPtr) error {
	if s.kind == storageShared {
		return ErrSharedBalanceUnsupported
	}
	q := fmt.Sprintf(
		`insert into %s(address, amount, block_number, block_hash)
		 values ($1, $2::numeric, $3, $4)
		 on conflict(address, block_number) do update set amount = $2::numeric`,
		s.schema.Balance())
	_, err := conn.ExecContext(ctx, q,
		address[:], u256ToNumeric(amount), ptr.Number, ptr.HashBytes())
	if err != nil {
		return queryError("upsert balance", err)
	}
	return nil
}

// findTransactionAddresses returns the distinct non-null `to` addresses
// of transactions included at exactly the block's number. Shared storage
// tracks no balances, so the list is empty there.
func (s Storage) findTransactionAddresses(ctx context.Context, conn sqlx.ExtContext, ptr BlockPtr) ([]common.Address, error) {
	if s.kind == storageShared {
		return nil, nil
	}
	var raw [][]byte
	err := sqlx.SelectContext(ctx, conn, &raw,
		fmt.Sprintf(`select distinct "to" from %s
		              where block_number = $1 and "to" is not null`,
			s.schema.Transactions()),
		ptr.Number)
	if err != nil {
		return nil, queryError("load transaction addresses", err)
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := decodeAddress(b)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// UpsertBalance writes one address balance at a block in its own
// transaction.
func (cs *ChainStore) UpsertBalance(ctx context.Context, address common.Address, amount *uint256.Int, ptr BlockPtr) error {
	return cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			return cs.storage.upsertBalance(ctx, tx, address, amount, ptr)
		})
	})
}

// BalanceAddressList returns the addresses whose balances should be
// refreshed after the given block: the distinct recipients of its
// transactions.
func (cs *ChainStore) BalanceAddressList(ctx context.Context, ptr BlockPtr) ([]common.Address, error) {
	var out []common.Address
	err := cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			addrs, err := cs.storage.findTransactionAddresses(ctx, tx, ptr)
			if err != nil {
				return err
			}
			out = addrs
			return nil
		})
	})
	return out, err
}

// ChainBalanceHeadPtr reads the balance ledger's verified head.
func (cs *ChainStore) ChainBalanceHeadPtr(ctx context.Context) (*BlockPtr, error) {
	var row headRow
	err := cs.pool.Get().GetContext(ctx, &row,
		`select head_block_hash, head_block_number
		   from public.ethereum_balance where name = $1`, cs.chain)
	if err != nil {
		return nil, queryError("load balance head", err)
	}
	return ptrFromNullable(row.Hash, row.Number)
}

// ChainBalanceEarlyHeadPtr reads the balance ledger's early head.
func (cs *ChainStore) ChainBalanceEarlyHeadPtr(ctx context.Context) (*BlockPtr, error) {
	var row earlyHeadRow
	err := cs.pool.Get().GetContext(ctx, &row,
		`select early_head_block_hash, early_head_block_number
		   from public.ethereum_balance where name = $1`, cs.chain)
	if err != nil {
		return nil, queryError("load balance early head", err)
	}
	return ptrFromNullable(row.Hash, row.Number)
}

// ChainUpdateBalanceHead moves the balance ledger's head. Unlike chain
// head advancement there is no continuity check; balance materialization
// orders its own progress.
func (cs *ChainStore) ChainUpdateBalanceHead(ctx context.Context, ptr BlockPtr) (int64, error) {
	res, err := cs.pool.Get().ExecContext(ctx,
		`update public.ethereum_balance
		    set head_block_hash = $1, head_block_number = $2, head_updated = now()
		  where name = $3`,
		ptr.HashHex(), ptr.Number, cs.chain)
	if err != nil {
		return 0, queryError("update balance head", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryError("update balance head", err)
	}
	return n, nil
}

// ChainUpdateBalanceEarlyHead moves the balance ledger's early head.
func (cs *ChainStore) ChainUpdateBalanceEarlyHead(ctx context.Context, ptr BlockPtr) (int64, error) {
	res, err := cs.pool.Get().ExecContext(ctx,
		`update public.ethereum_balance
		    set early_head_block_hash = $1, early_head_block_number = $2,
		        early_head_updated = now()
		  where name = $3`,
		ptr.HashHex(), ptr.Number, cs.chain)
	if err != nil {
		return 0, queryError("update balance early head", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryError("update balance early head", err)
	}
	return n, nil
}

package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"lukechampine.com/blake3"
)

// contractCallID derives the cache key for a read-only contract call. The
// digest covers the encoded call, the contract address and the block
// hash. 256 bits of output, and therefore 128 bits of security against
// collisions, are needed since block hashes are adversarially choosable
// and the key could be targeted by a birthday attack.
func contractCallID(contract common.Address, encodedCall []byte, block BlockPtr) [32]byte {
	h := blake3.New(32, nil)
	h.Write(encodedCall)
	h.Write(contract[:])
	h.Write(block.HashBytes())
	var id [32]byte
	copy(id[:], h.Sum(nil))
	return id
}

// getCallAndAccess looks up a cached call result together with whether
// the contract's access date needs a refresh.
func (s Storage) getCallAndAccess(ctx context.Context, conn sqlx.ExtContext, id []byte) ([]byte, bool, bool, error) {
	var cacheT, metaT string
	if s.kind == storageShared {
		cacheT, metaT = "public.eth_call_cache", "public.eth_call_meta"
	} else {
		cacheT, metaT = s.schema.CallCache(), s.schema.CallMeta()
	}
	q := fmt.Sprintf(
		`select c.return_value, CURRENT_DATE > m.accessed_at as stale
		   from %s c join %s m on m.contract_address = c.contract_address
		  where c.id = $1`, cacheT, metaT)

	var row struct {
		ReturnValue []byte `db:"return_value"`
		Stale       bool   `db:"stale"`
	}
	err := sqlx.GetContext(ctx, conn, &row, q, id)
	if err == sql.ErrNoRows {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, queryError("load cached call", err)
	}
	return row.ReturnValue, row.Stale, true, nil
}

// updateAccessedAt stamps the contract's call metadata with today's date.
func (s Storage) updateAccessedAt(ctx context.Context, conn sqlx.ExtContext, contract []byte) error {
	metaT := "public.eth_call_meta"
	if s.kind == storagePrivate {
		metaT = s.schema.CallMeta()
	}
	_, err := conn.ExecContext(ctx,
		fmt.Sprintf(`update %s set accessed_at = CURRENT_DATE where contract_address = $1`, metaT),
		contract)
	if err != nil {
		return queryError("update call access date", err)
	}
	return nil
}

// setCall stores a call result and refreshes the contract's access date.
// The meta update is guarded so a same-day repeat write is a no-op.
func (s Storage) setCall(ctx context.Context, conn sqlx.ExtContext, id, contract []byte, blockNumber int32, returnValue, methodID []byte, callArgs []string) error {
	if s.kind == storageShared {
		_, err := conn.ExecContext(ctx,
			`insert into public.eth_call_cache (id, contract_address, block_number, return_value)
			 values ($1, $2, $3, $4) on conflict do nothing`,
			id, contract, blockNumber, returnValue)
		if err != nil {
			return queryError("insert cached call", err)
		}
		_, err = conn.ExecContext(ctx,
			`insert into public.eth_call_meta (contract_address, accessed_at)
			 values ($1, CURRENT_DATE)
			 on conflict(contract_address) do update set accessed_at = CURRENT_DATE
			 where eth_call_meta.accessed_at < CURRENT_DATE`,
			contract)
		if err != nil {
			return queryError("upsert call meta", err)
		}
		return nil
	}

	var params interface{}
	if len(callArgs) > 0 {
		params = strings.Join(callArgs, ",")
	}
	_, err := conn.ExecContext(ctx,
		fmt.Sprintf(
			`insert into %s (id, contract_address, block_number, return_value, method_id, method_params)
			 values ($1, $2, $3, $4, $5, $6) on conflict do nothing`, s.schema.CallCache()),
		id, contract, blockNumber, returnValue, methodID, params)
	if err != nil {
		return queryError("insert cached call", err)
	}
	_, err = conn.ExecContext(ctx,
		fmt.Sprintf(
			`insert into %s (contract_address, accessed_at)
			 values ($1, CURRENT_DATE)
			 on conflict(contract_address) do update set accessed_at = CURRENT_DATE
			 where %s.accessed_at < CURRENT_DATE`, s.schema.CallMeta(), callMetaTable),
		contract)
	if err != nil {
		return queryError("upsert call meta", err)
	}
	return nil
}

// GetCall returns the cached result of a read-only contract call at the
// given block, or nil when nothing is cached. A hit on a stale access
// date refreshes the date within the same transaction.
func (cs *ChainStore) GetCall(ctx context.Context, contract common.Address, encodedCall []byte, block BlockPtr) ([]byte, error) {
	id := contractCallID(contract, encodedCall, block)
	var value []byte
	err := cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			returnValue, stale, found, err := cs.storage.getCallAndAccess(ctx, tx, id[:])
			if err != nil || !found {
				return err
			}
			if stale {
				if err := cs.storage.updateAccessedAt(ctx, tx, contract[:]); err != nil {
					return err
				}
			}
			value = returnValue
			return nil
		})
	})
	return value, err
}

// SetCall memoizes the result of a read-only contract call at the given
// block.
func (cs *ChainStore) SetCall(ctx context.Context, contract common.Address, encodedCall []byte, block BlockPtr, returnValue, methodID []byte, callArgs []string) error {
	id := contractCallID(contract, encodedCall, block)
	return cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			return cs.storage.setCall(ctx, tx, id[:], contract[:],
				int32(block.Number), returnValue, methodID, callArgs)
		})
	})
}

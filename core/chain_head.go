package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// ChainHeadUpdateSender broadcasts a committed head advancement to
// whatever subsystem listens for it. The store calls Send exactly once per
// successful head update, after the transaction committed.
type ChainHeadUpdateSender interface {
	Send(hash common.Hash, number int64) error
}

// LogChainHeadUpdateSender is a sender that only logs the update. It is
// the default wiring for the admin tooling, where no ingestion listeners
// are attached.
type LogChainHeadUpdateSender struct {
	Chain string
}

func (s LogChainHeadUpdateSender) Send(hash common.Hash, number int64) error {
	logrus.WithFields(logrus.Fields{
		"chain":  s.Chain,
		"hash":   hash.Hex(),
		"number": number,
	}).Info("chain head updated")
	return nil
}

// chainHeadCandidate returns the best candidate for a new chain head: the
// stored block with the highest number above the current head, ties broken
// by hash order. It returns nil when no block tops the current head.
func (s Storage) chainHeadCandidate(ctx context.Context, conn sqlx.ExtContext, chain string) (*BlockPtr, error) {
	var head sql.NullInt64
	err := sqlx.GetContext(ctx, conn, &head,
		`select head_block_number from public.ethereum_networks where name = $1`, chain)
	if err != nil {
		return nil, queryError("load current head", err)
	}
	current := int64(-1)
	if head.Valid {
		current = head.Int64
	}

	if s.kind == storageShared {
		var row struct {
			Hash   string `db:"hash"`
			Number int64  `db:"number"`
		}
		err = sqlx.GetContext(ctx, conn, &row,
			`select hash, number from public.ethereum_blocks
			  where network_name = $1 and number > $2
			  order by number desc, hash limit 1`,
			chain, current)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, queryError("select head candidate", err)
		}
		hash, err := parseHashHex(row.Hash)
		if err != nil {
			return nil, err
		}
		return &BlockPtr{Hash: hash, Number: row.Number}, nil
	}

	var row struct {
		Hash   []byte `db:"hash"`
		Number int64  `db:"number"`
	}
	err = sqlx.GetContext(ctx, conn, &row,
		fmt.Sprintf(`select hash, number from %s where number > $1
		              order by number desc, hash limit 1`, s.schema.Blocks()),
		current)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("select head candidate", err)
	}
	hash, err := decodeHash(row.Hash)
	if err != nil {
		return nil, err
	}
	return &BlockPtr{Hash: hash, Number: row.Number}, nil
}

// AttemptChainHeadUpdate advances the chain head to the best stored
// candidate if the parent chain back to candidate.number - ancestorCount
// is complete. When a parent is missing it returns that hash so the caller
// can fetch the block, and the head stays untouched.
func (cs *ChainStore) AttemptChainHeadUpdate(ctx context.Context, ancestorCount int64) (*common.Hash, error) {
	var missing *common.Hash
	var advanced *BlockPtr

	err := cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			candidate, err := cs.storage.chainHeadCandidate(ctx, tx, cs.chain)
			if err != nil {
				return err
			}
			if candidate == nil {
				return nil
			}
			firstBlock := candidate.Number - ancestorCount
			if firstBlock < 0 {
				firstBlock = 0
			}
			m, err := cs.storage.missingParent(ctx, tx, cs.chain, firstBlock,
				candidate.Hash, cs.genesisBlockPtr.Hash)
			if err != nil {
				return err
			}
			if m != nil {
				missing = m
				return nil
			}
			_, err = tx.ExecContext(ctx,
				`update public.ethereum_networks
				    set head_block_hash = $1, head_block_number = $2, head_updated = now()
				  where name = $3`,
				candidate.HashHex(), candidate.Number, cs.chain)
			if err != nil {
				return queryError("update chain head", err)
			}
			advanced = candidate
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if advanced != nil {
		if err := cs.headUpdates.Send(advanced.Hash, advanced.Number); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// EarlyAttemptChainHeadUpdate records a best-known lower-bound tip from
// the backward-walking ingester. It never checks chain continuity; the
// early head is not a verified chain tip.
func (cs *ChainStore) EarlyAttemptChainHeadUpdate(ctx context.Context, parentNum int64, parentHash common.Hash) error {
	return cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				`update public.ethereum_networks
				    set early_head_block_hash = $1, early_head_block_number = $2,
				        early_head_updated = now()
				  where name = $3`,
				hashHex(parentHash), parentNum, cs.chain)
			if err != nil {
				return queryError("update early chain head", err)
			}
			return nil
		})
	})
}

// ptrFromNullable turns a nullable (hash, number) registry pair into a
// pointer. Both null means no head yet; exactly one null is corruption.
func ptrFromNullable(hash sql.NullString, number sql.NullInt64) (*BlockPtr, error) {
	switch {
	case hash.Valid && number.Valid:
		h, err := parseHashHex(hash.String)
		if err != nil {
			return nil, err
		}
		return &BlockPtr{Hash: h, Number: number.Int64}, nil
	case !hash.Valid && !number.Valid:
		return nil, nil
	default:
		return nil, constraintViolation("registry row has exactly one of hash and number set")
	}
}

type headRow struct {
	Hash   sql.NullString `db:"head_block_hash"`
	Number sql.NullInt64  `db:"head_block_number"`
}

type earlyHeadRow struct {
	Hash   sql.NullString `db:"early_head_block_hash"`
	Number sql.NullInt64  `db:"early_head_block_number"`
}

// ChainHeadPtr reads the verified head of this chain, or nil when the
// chain has not advanced yet.
func (cs *ChainStore) ChainHeadPtr(ctx context.Context) (*BlockPtr, error) {
	var row headRow
	err := cs.pool.Get().GetContext(ctx, &row,
		`select head_block_hash, head_block_number
		   from public.ethereum_networks where name = $1`, cs.chain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("load chain head", err)
	}
	return ptrFromNullable(row.Hash, row.Number)
}

// ChainEarlyHeadPtr reads the early head of this chain.
func (cs *ChainStore) ChainEarlyHeadPtr(ctx context.Context) (*BlockPtr, error) {
	var row earlyHeadRow
	err := cs.pool.Get().GetContext(ctx, &row,
		`select early_head_block_hash, early_head_block_number
		   from public.ethereum_networks where name = $1`, cs.chain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("load early chain head", err)
	}
	return ptrFromNullable(row.Hash, row.Number)
}

// ChainHeadPointers returns the verified head of every registered chain
// that has one. A row with exactly one of hash and number set is a
// constraint violation.
func (cs *ChainStore) ChainHeadPointers(ctx context.Context) (map[string]BlockPtr, error) {
	var rows []struct {
		Name string `db:"name"`
		headRow
	}
	err := cs.pool.Get().SelectContext(ctx, &rows,
		`select name, head_block_hash, head_block_number from public.ethereum_networks`)
	if err != nil {
		return nil, queryError("load chain heads", err)
	}
	out := make(map[string]BlockPtr, len(rows))
	for _, row := range rows {
		ptr, err := ptrFromNullable(row.Hash, row.Number)
		if err != nil {
			return nil, err
		}
		if ptr == nil {
			continue
		}
		out[row.Name] = *ptr
	}
	return out, nil
}

// ChainHeadBlock returns the head block number of the named chain, or nil
// when it has none.
func (cs *ChainStore) ChainHeadBlock(ctx context.Context, chain string) (*int64, error) {
	var number sql.NullInt64
	err := cs.pool.Get().GetContext(ctx, &number,
		`select head_block_number from public.ethereum_networks where name = $1`, chain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("load chain head block", err)
	}
	if !number.Valid {
		return nil, nil
	}
	n := number.Int64
	return &n, nil
}

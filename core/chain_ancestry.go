package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
)

// The recursive walk builds a temp table 'chain' containing the hash and
// parent_hash of blocks to check. The 'last' value stops the recursion and
// is true once one of these holds:
//   - we are missing a parent block
//   - we checked the required number of blocks
//   - we checked the genesis block
const missingParentSharedSQL = `
with recursive chain(hash, parent_hash, last) as (
    -- base case: look at the head candidate block
    select b.hash, b.parent_hash, false
      from public.ethereum_blocks b
     where b.network_name = $1
       and b.hash = $2
       and b.hash != $3
    union all
    -- recursion step: add a block whose hash is the latest parent_hash
    -- on chain
    select chain.parent_hash,
           b.parent_hash,
           coalesce(b.parent_hash is null
                 or b.number <= $4
                 or b.hash = $3, true)
      from chain left outer join public.ethereum_blocks b
                  on chain.parent_hash = b.hash
                 and b.network_name = $1
     where not chain.last)
 select hash
   from chain
  where chain.parent_hash is null`

// Same walk against a private blocks table, which has no network_name
// column and stores hashes as bytea.
const missingParentPrivateSQL = `
with recursive chain(hash, parent_hash, last) as (
    select b.hash, b.parent_hash, false
      from %s b
     where b.hash = $1
       and b.hash != $2
    union all
    select chain.parent_hash,
           b.parent_hash,
           coalesce(b.parent_hash is null
                 or b.number <= $3
                 or b.hash = $2, true)
      from chain left outer join %s b
                  on chain.parent_hash = b.hash
     where not chain.last)
 select hash
   from chain
  where chain.parent_hash is null`

// missingParent finds the first block missing from the store that is
// needed to complete the chain from head back to firstBlock or the
// genesis, and returns its hash so the caller can fetch it. A complete
// chain yields nil. More than one row means the walk diverged, which only
// happens when the stored data is corrupt.
func (s Storage) missingParent(ctx context.Context, conn sqlx.ExtContext, chain string, firstBlock int64, head, genesis common.Hash) (*common.Hash, error) {
	if s.kind == storageShared {
		var hexes []string
		err := sqlx.SelectContext(ctx, conn, &hexes, missingParentSharedSQL,
			chain, hashHex(head), hashHex(genesis), firstBlock)
		if err != nil {
			return nil, queryError("missing parent walk", err)
		}
		switch len(hexes) {
		case 0:
			return nil, nil
		case 1:
			h, err := parseHashHex(hexes[0])
			if err != nil {
				return nil, err
			}
			return &h, nil
		default:
			return nil, constraintViolation("missing parent walk returned %d rows", len(hexes))
		}
	}

	q := fmt.Sprintf(missingParentPrivateSQL, s.schema.Blocks(), s.schema.Blocks())
	var raw [][]byte
	err := sqlx.SelectContext(ctx, conn, &raw, q, head.Bytes(), genesis.Bytes(), firstBlock)
	if err != nil {
		return nil, queryError("missing parent walk", err)
	}
	switch len(raw) {
	case 0:
		return nil, nil
	case 1:
		h, err := decodeHash(raw[0])
		if err != nil {
			return nil, err
		}
		return &h, nil
	default:
		return nil, constraintViolation("missing parent walk returned %d rows", len(raw))
	}
}

const ancestorSharedSQL = `
with recursive ancestors(block_hash, block_offset) as (
    values ($1::text, 0)
    union all
    select b.parent_hash, a.block_offset+1
      from ancestors a, public.ethereum_blocks b
     where a.block_hash = b.hash
       and a.block_offset < $2
)
select a.block_hash as hash
  from ancestors a
 where a.block_offset = $2`

const ancestorPrivateSQL = `
with recursive ancestors(block_hash, block_offset) as (
    values ($1::bytea, 0)
    union all
    select b.parent_hash, a.block_offset+1
      from ancestors a, %s b
     where a.block_hash = b.hash
       and a.block_offset < $2
)
select a.block_hash as hash
  from ancestors a
 where a.block_offset = $2`

// ancestorBlock walks offset steps back along the parent chain from ptr
// and loads the full stored payload of the block it lands on. It returns
// nil when the chain is not stored that far back.
func (s Storage) ancestorBlock(ctx context.Context, conn sqlx.ExtContext, ptr BlockPtr, offset int64) (*EthereumBlock, error) {
	var data []byte
	if s.kind == storageShared {
		var hash string
		err := sqlx.GetContext(ctx, conn, &hash, ancestorSharedSQL, ptr.HashHex(), offset)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, queryError("ancestor walk", err)
		}
		err = sqlx.GetContext(ctx, conn, &data,
			`select data from public.ethereum_blocks where hash = $1`, hash)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, queryError("load ancestor block", err)
		}
	} else {
		var hash []byte
		q := fmt.Sprintf(ancestorPrivateSQL, s.schema.Blocks())
		err := sqlx.GetContext(ctx, conn, &hash, q, ptr.HashBytes(), offset)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, queryError("ancestor walk", err)
		}
		err = sqlx.GetContext(ctx, conn, &data,
			fmt.Sprintf(`select data from %s where hash = $1`, s.schema.Blocks()), hash)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, queryError("load ancestor block", err)
		}
	}

	var block EthereumBlock
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, constraintViolation("deserialize ancestor block: %v", err)
	}
	return &block, nil
}

// deleteBlocksBefore removes all blocks with 0 < number < block. The
// genesis block is never deleted.
func (s Storage) deleteBlocksBefore(ctx context.Context, conn sqlx.ExtContext, chain string, block int64) (int, error) {
	var res sql.Result
	var err error
	if s.kind == storageShared {
		res, err = conn.ExecContext(ctx,
			`delete from public.ethereum_blocks
			  where network_name = $1 and number < $2 and number > 0`,
			chain, block)
	} else {
		res, err = conn.ExecContext(ctx,
			fmt.Sprintf(`delete from %s where number < $1 and number > 0`, s.schema.Blocks()),
			block)
	}
	if err != nil {
		return 0, queryError("delete blocks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryError("delete blocks", err)
	}
	return int(n), nil
}

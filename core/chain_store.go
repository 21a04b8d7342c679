package core

import (
	"context"
	"database/sql"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// ChainStore is the persistence layer for one chain: block, transaction
// and receipt ingestion, head tracking, the contract-call cache and the
// balance ledger. All state lives in Postgres; the store itself only
// holds the pool, the storage variant and the chain identity, so it is
// cheap to share between goroutines.
type ChainStore struct {
	pool            *ConnectionPool
	chain           string
	storage         Storage
	genesisBlockPtr BlockPtr
	status          ChainStatus
	headUpdates     ChainHeadUpdateSender
}

// NewChainStore wires a store for one chain. The genesis pointer is taken
// from the network identifier; its number is always zero.
func NewChainStore(chain string, storage Storage, ident NetworkIdentifier, status ChainStatus, headUpdates ChainHeadUpdateSender, pool *ConnectionPool) *ChainStore {
	return &ChainStore{
		pool:            pool,
		chain:           chain,
		storage:         storage,
		genesisBlockPtr: BlockPtr{Hash: ident.GenesisBlockHash, Number: 0},
		status:          status,
		headUpdates:     headUpdates,
	}
}

// Chain returns the chain name this store serves.
func (cs *ChainStore) Chain() string { return cs.chain }

// Storage returns the storage variant backing this chain.
func (cs *ChainStore) Storage() Storage { return cs.storage }

// IsIngestible reports whether the chain accepts new blocks.
func (cs *ChainStore) IsIngestible() bool { return cs.status == Ingestible }

// GenesisBlockPtr returns the genesis pointer of this chain.
func (cs *ChainStore) GenesisBlockPtr() BlockPtr { return cs.genesisBlockPtr }

// Create registers the chain in the networks and balance registries and,
// for private storage, creates the dedicated schema. Existing registry
// rows are left alone; for private storage a repeated call fails because
// the schema already exists.
func (cs *ChainStore) Create(ctx context.Context, ident NetworkIdentifier) error {
	registries := []string{"public.ethereum_networks", "public.ethereum_balance"}
	for i, registry := range registries {
		withDDL := i == 0
		err := cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
			return withTx(ctx, conn, func(tx *sqlx.Tx) error {
				_, err := tx.ExecContext(ctx,
					`insert into `+registry+`
					   (name, namespace, head_block_hash, head_block_number,
					    early_head_block_hash, early_head_block_number,
					    head_updated, early_head_updated, net_version, genesis_block_hash)
					 values ($1, $2, null, null, null, null, now(), now(), $3, $4)
					 on conflict(name) do nothing`,
					cs.chain, cs.storage.Namespace(), ident.NetVersion,
					hashHex(ident.GenesisBlockHash))
				if err != nil {
					return queryError("register chain in "+registry, err)
				}
				if withDDL {
					return cs.storage.Create(ctx, tx)
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{
		"chain":     cs.chain,
		"namespace": cs.storage.Namespace(),
	}).Info("chain storage created")
	return nil
}

// DropChain removes the chain's storage and its registry rows.
func (cs *ChainStore) DropChain(ctx context.Context) error {
	return cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			if err := cs.storage.Drop(ctx, tx, cs.chain); err != nil {
				return err
			}
			for _, registry := range []string{"public.ethereum_networks", "public.ethereum_balance"} {
				if _, err := tx.ExecContext(ctx,
					`delete from `+registry+` where name = $1`, cs.chain); err != nil {
					return queryError("deregister chain from "+registry, err)
				}
			}
			return nil
		})
	})
}

// UpsertBlock stores a full block with its transactions and receipts in
// one transaction; either everything becomes visible or nothing does.
func (cs *ChainStore) UpsertBlock(ctx context.Context, block *EthereumBlock) error {
	return cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			return cs.storage.upsertBlock(ctx, tx, cs.chain, block)
		})
	})
}

// UpsertLightBlocks stores header-and-transactions blocks without
// touching receipts already stored for the same hashes.
func (cs *ChainStore) UpsertLightBlocks(ctx context.Context, blocks []*LightBlock) error {
	conn := cs.pool.Get()
	for _, block := range blocks {
		if err := cs.storage.upsertLightBlock(ctx, conn, cs.chain, block); err != nil {
			return err
		}
	}
	return nil
}

// Blocks returns the stored payloads for the given hashes; unknown hashes
// are silently absent from the result.
func (cs *ChainStore) Blocks(ctx context.Context, hashes []common.Hash) ([]*LightBlock, error) {
	return cs.storage.blocks(ctx, cs.pool.Get(), cs.chain, hashes)
}

// AncestorBlock returns the block offset steps back along the parent
// chain from ptr, or nil if the chain is not stored that far back. An
// offset pointing before genesis is a precondition violation.
func (cs *ChainStore) AncestorBlock(ctx context.Context, ptr BlockPtr, offset int64) (*EthereumBlock, error) {
	if ptr.Number < offset {
		return nil, constraintViolation(
			"block offset %d for block `%s` points to before genesis block",
			offset, ptr.HashHex())
	}
	return cs.storage.ancestorBlock(ctx, cs.pool.Get(), ptr, offset)
}

// BlockHashesByBlockNumber lists every stored hash at the given height.
func (cs *ChainStore) BlockHashesByBlockNumber(ctx context.Context, number int64) ([]common.Hash, error) {
	return cs.storage.blockHashesByBlockNumber(ctx, cs.pool.Get(), cs.chain, number)
}

// ConfirmBlockHash deletes all rivals of hash at the given height and
// returns how many were removed.
func (cs *ChainStore) ConfirmBlockHash(ctx context.Context, number int64, hash common.Hash) (int, error) {
	return cs.storage.confirmBlockHash(ctx, cs.pool.Get(), cs.chain, number, hash)
}

// BlockNumber resolves a block hash to its chain and number, or nil when
// the hash is unknown.
func (cs *ChainStore) BlockNumber(ctx context.Context, hash common.Hash) (string, *int64, error) {
	number, err := cs.storage.blockNumber(ctx, cs.pool.Get(), hash)
	if err != nil {
		return "", nil, err
	}
	return cs.chain, number, nil
}

// TransactionReceiptsInBlock extracts the receipts embedded in the stored
// payload of the given block.
func (cs *ChainStore) TransactionReceiptsInBlock(ctx context.Context, blockHash common.Hash) ([]*LightReceipt, error) {
	var out []*LightReceipt
	err := cs.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return withTx(ctx, conn, func(tx *sqlx.Tx) error {
			receipts, err := cs.storage.findTransactionReceiptsInBlock(ctx, tx, blockHash)
			if err != nil {
				return err
			}
			out = receipts
			return nil
		})
	})
	return out, err
}

// Remove all blocks from the cache that are behind the slowest consumer's
// head block, but retain the genesis block. We stay behind the slowest
// consumer so that we do not interfere with its syncing activity, and
// ancestorCount many blocks behind the chain head since the block
// ingestor consults those blocks frequently. Only active consumers that
// have not failed count.
const cleanupFloorSQL = `
select coalesce(
       least(a.block,
            (select head_block_number::int - $1
               from public.ethereum_networks
              where name = $2)), -1)::int as block
  from (
    select min(d.latest_ethereum_block_number) as block
      from subgraphs.subgraph_deployment d,
           subgraphs.subgraph_deployment_assignment a,
           deployment_schemas ds
     where ds.subgraph = d.deployment
       and a.id = d.id
       and not d.failed
       and ds.network = $2) a`

// CleanupCachedBlocks deletes cached blocks below the retention floor and
// returns the floor and the number of deleted rows, or nil when nothing
// could be determined or the floor is not positive.
func (cs *ChainStore) CleanupCachedBlocks(ctx context.Context, ancestorCount int64) (*int64, int, error) {
	conn := cs.pool.Get()
	var floor sql.NullInt64
	err := conn.GetContext(ctx, &floor, cleanupFloorSQL, ancestorCount, cs.chain)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, queryError("determine retention floor", err)
	}
	// A floor of -1 means no minimum could be determined; zero or less
	// would touch the genesis block.
	if !floor.Valid || floor.Int64 <= 0 {
		return nil, 0, nil
	}
	rows, err := cs.storage.deleteBlocksBefore(ctx, conn, cs.chain, floor.Int64)
	if err != nil {
		return nil, 0, err
	}
	block := floor.Int64
	return &block, rows, nil
}

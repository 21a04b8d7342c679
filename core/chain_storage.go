package core

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Table names inside a private chain schema.
const (
	blocksTable    = "blocks"
	txTable        = "transactions"
	receiptsTable  = "receipts"
	callCacheTable = "call_cache"
	callMetaTable  = "call_meta"
	balanceTable   = "balance"
)

// sharedBlocksTable is where blocks live when a chain uses shared storage.
const sharedBlocksTable = "public.ethereum_blocks"

const (
	storagePrefix = "chain"
	storagePublic = "public"
)

// Schema owns the namespace of a private chain and resolves fully
// qualified table names. Having one accessor per table keeps misuse a
// compile-time error instead of a typo in a format string.
type Schema struct {
	name string
}

func newSchema(name string) *Schema { return &Schema{name: name} }

// Name returns the bare namespace, e.g. "chain3".
func (s *Schema) Name() string { return s.name }

func (s *Schema) qualified(table string) string { return s.name + "." + table }

func (s *Schema) Blocks() string       { return s.qualified(blocksTable) }
func (s *Schema) Transactions() string { return s.qualified(txTable) }
func (s *Schema) Receipts() string     { return s.qualified(receiptsTable) }
func (s *Schema) CallCache() string    { return s.qualified(callCacheTable) }
func (s *Schema) CallMeta() string     { return s.qualified(callMetaTable) }
func (s *Schema) Balance() string      { return s.qualified(balanceTable) }

type storageKind int

const (
	storageShared storageKind = iota
	storagePrivate
)

// Storage says where a chain's data lives: in the shared public tables
// keyed by network name, or in a dedicated schema named chain<N>. The two
// variants differ in column types (hex strings vs raw bytes), not just in
// table names, so every query dispatches on the variant.
type Storage struct {
	kind   storageKind
	schema *Schema
}

// SharedStorage is the storage value for chains kept in the public tables.
var SharedStorage = Storage{kind: storageShared}

// PrivateStorage builds the storage value for a dedicated namespace. The
// name must be well-formed per StorageFromNamespace.
func PrivateStorage(namespace string) (Storage, error) {
	if namespace == storagePublic {
		return Storage{}, fmt.Errorf("storage: %q is not a private namespace", namespace)
	}
	return StorageFromNamespace(namespace)
}

// StorageFromNamespace parses a namespace string: "public" selects shared
// storage, chain[0-9]+ selects private storage, anything else is invalid.
func StorageFromNamespace(s string) (Storage, error) {
	if s == storagePublic {
		return SharedStorage, nil
	}
	if len(s) <= len(storagePrefix) || s[:len(storagePrefix)] != storagePrefix {
		return Storage{}, fmt.Errorf("storage: invalid namespace %q", s)
	}
	for _, c := range s[len(storagePrefix):] {
		if c < '0' || c > '9' {
			return Storage{}, fmt.Errorf("storage: invalid namespace %q", s)
		}
	}
	return Storage{kind: storagePrivate, schema: newSchema(s)}, nil
}

// IsShared reports whether the chain lives in the shared tables.
func (s Storage) IsShared() bool { return s.kind == storageShared }

// Namespace returns the database schema name backing this storage.
func (s Storage) Namespace() string {
	if s.kind == storageShared {
		return storagePublic
	}
	return s.schema.Name()
}

func (s Storage) String() string { return s.Namespace() }

// blocksTableName is the fully qualified blocks table for either variant.
func (s Storage) blocksTableName() string {
	if s.kind == storageShared {
		return sharedBlocksTable
	}
	return s.schema.Blocks()
}

// privateDDL is the dedicated-schema layout. The shared layout is assumed
// present from a prior migration. The misspelled max_priority_fe_per_gas
// column is kept for compatibility with existing deployments.
func privateDDL(nsp *Schema) string {
	return fmt.Sprintf(`
create schema %[1]s;
create table %[2]s (
  hash         bytea  not null primary key,
  number       int8   not null,
  parent_hash  bytea  not null,
  data         jsonb  not null
);
create index blocks_number on %[2]s using btree(number);

create table %[3]s (
  hash                      bytea not null primary key,
  transaction_index         bytea not null,
  block_hash                bytea not null,
  block_number              int8  not null,
  gas                       int8  not null,
  gas_price                 int8  not null,
  max_fee_per_gas           int8,
  max_priority_fe_per_gas   int8,
  input                     bytea not null,
  "from"                    bytea not null,
  "to"                      bytea,
  trx_type                  int8,
  nonce                     bytea not null,
  value                     bytea not null
);
create index tx_hash on %[3]s using btree(hash);

create table %[4]s (
  id                    bytea not null primary key,
  block_hash            bytea,
  block_number          int8,
  data                  bytea not null,
  topics                text[],
  address               bytea,
  removed               bool,
  log_index             bytea,
  log_type              text,
  transaction_hash      bytea,
  transaction_index     bytea not null,
  cumulative_gas_used   int8,
  effective_gas_used    int8,
  gas_used              int8,
  "from"                bytea,
  "to"                  bytea
);
create index tx_receipt_index on %[4]s using btree(transaction_hash, log_index);

create table %[5]s (
  id               bytea not null primary key,
  return_value     bytea not null,
  contract_address bytea not null,
  block_number     int4  not null,
  method_id        bytea not null,
  method_params    text
);
comment on column %[5]s.method_params is 'call-params split by ,';

create table %[6]s (
  block_hash    bytea,
  block_number  int8,
  amount        numeric,
  address       bytea,
  primary key(address, block_number)
);
create index address_number_index on %[6]s using btree(address, block_number);

create table %[7]s (
  contract_address bytea not null primary key,
  accessed_at      date  not null
);
`,
		nsp.Name(), nsp.Blocks(), nsp.Transactions(), nsp.Receipts(),
		nsp.CallCache(), nsp.Balance(), nsp.CallMeta())
}

// Create sets up the dedicated tables for a private chain. Shared storage
// is a no-op since a regular migration already created the public tables.
func (s Storage) Create(ctx context.Context, conn sqlx.ExtContext) error {
	if s.kind == storageShared {
		return nil
	}
	if _, err := conn.ExecContext(ctx, privateDDL(s.schema)); err != nil {
		return queryError("create chain schema "+s.schema.Name(), err)
	}
	return nil
}

// Drop removes all data for the chain: shared storage deletes the chain's
// rows, private storage drops the whole schema.
func (s Storage) Drop(ctx context.Context, conn sqlx.ExtContext, chain string) error {
	if s.kind == storageShared {
		_, err := conn.ExecContext(ctx,
			"delete from public.ethereum_blocks where network_name = $1", chain)
		if err != nil {
			return queryError("drop shared chain rows", err)
		}
		return nil
	}
	if _, err := conn.ExecContext(ctx, "drop schema "+s.schema.Name()+" cascade"); err != nil {
		return queryError("drop chain schema "+s.schema.Name(), err)
	}
	return nil
}

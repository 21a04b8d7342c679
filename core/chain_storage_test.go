package core

import (
	"strings"
	"testing"
)

func TestStorageFromNamespace(t *testing.T) {
	s, err := StorageFromNamespace("public")
	if err != nil {
		t.Fatalf("parse public: %v", err)
	}
	if !s.IsShared() || s.Namespace() != "public" {
		t.Fatalf("public must parse as shared storage")
	}

	s, err = StorageFromNamespace("chain7")
	if err != nil {
		t.Fatalf("parse chain7: %v", err)
	}
	if s.IsShared() || s.Namespace() != "chain7" {
		t.Fatalf("chain7 must parse as private storage")
	}

	for _, bad := range []string{"", "chain", "chainX", "chain7x", "Chain7", "publicx", "7chain"} {
		if _, err := StorageFromNamespace(bad); err == nil {
			t.Fatalf("namespace %q must be rejected", bad)
		}
	}
}

func TestSchemaTableNames(t *testing.T) {
	s, err := StorageFromNamespace("chain42")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sc := s.schema
	cases := map[string]string{
		sc.Blocks():       "chain42.blocks",
		sc.Transactions(): "chain42.transactions",
		sc.Receipts():     "chain42.receipts",
		sc.CallCache():    "chain42.call_cache",
		sc.CallMeta():     "chain42.call_meta",
		sc.Balance():      "chain42.balance",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("table name %q, want %q", got, want)
		}
	}
	if s.blocksTableName() != "chain42.blocks" {
		t.Fatalf("blocksTableName=%q", s.blocksTableName())
	}
	if SharedStorage.blocksTableName() != "public.ethereum_blocks" {
		t.Fatalf("shared blocksTableName=%q", SharedStorage.blocksTableName())
	}
}

func TestPrivateDDLShape(t *testing.T) {
	s, err := StorageFromNamespace("chain3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ddl := privateDDL(s.schema)
	for _, want := range []string{
		"create schema chain3;",
		"create table chain3.blocks",
		"create table chain3.transactions",
		"create table chain3.receipts",
		"create table chain3.call_cache",
		"create table chain3.call_meta",
		"create table chain3.balance",
		"create index blocks_number on chain3.blocks using btree(number)",
		"create index tx_hash on chain3.transactions using btree(hash)",
		"create index tx_receipt_index on chain3.receipts using btree(transaction_hash, log_index)",
		"create index address_number_index on chain3.balance using btree(address, block_number)",
		"primary key(address, block_number)",
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("DDL is missing %q", want)
		}
	}
}

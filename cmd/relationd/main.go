package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/RelationLab/relation-node/core"
	"github.com/RelationLab/relation-node/pkg/config"
)

func main() {
	// Load environment variables from project .env if present
	_ = godotenv.Load(".env")

	rootCmd := &cobra.Command{Use: "relationd"}
	rootCmd.AddCommand(chainCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore builds a chain store from the loaded configuration.
func openStore() (*core.ChainStore, *core.ConnectionPool, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lvl)
	}

	storage, err := core.StorageFromNamespace(cfg.Chain.Namespace)
	if err != nil {
		return nil, nil, err
	}
	pool, err := core.NewConnectionPool(cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	genesis, err := core.ParseHash(cfg.Chain.GenesisHash)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	ident := core.NetworkIdentifier{
		NetVersion:       cfg.Chain.NetVersion,
		GenesisBlockHash: genesis,
	}
	store := core.NewChainStore(cfg.Chain.Name, storage, ident, core.Ingestible,
		core.LogChainHeadUpdateSender{Chain: cfg.Chain.Name}, pool)
	return store, pool, nil
}

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chain", Short: "manage chain storage"}
	cmd.AddCommand(chainCreateCmd(), chainDropCmd(), chainHeadCmd(),
		chainConfirmCmd(), chainCleanupCmd())
	return cmd
}

func chainCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "register the chain and create its storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, pool, err := openStore()
			if err != nil {
				return err
			}
			defer pool.Close()
			genesis := store.GenesisBlockPtr()
			ident := core.NetworkIdentifier{
				NetVersion:       config.AppConfig.Chain.NetVersion,
				GenesisBlockHash: genesis.Hash,
			}
			return store.Create(cmd.Context(), ident)
		},
	}
}

func chainDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "drop the chain's storage and registry rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, pool, err := openStore()
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := store.DropChain(cmd.Context()); err != nil {
				return err
			}
			logrus.Infof("chain %s dropped", store.Chain())
			return nil
		},
	}
}

func chainHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "print the chain's head pointers",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, pool, err := openStore()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx := cmd.Context()
			printPtr := func(label string, ptr *core.BlockPtr, err error) error {
				if err != nil {
					return err
				}
				if ptr == nil {
					fmt.Printf("%s: none\n", label)
					return nil
				}
				fmt.Printf("%s: %s @ %d\n", label, ptr.HashHex(), ptr.Number)
				return nil
			}
			ptr, err := store.ChainHeadPtr(ctx)
			if err := printPtr("head", ptr, err); err != nil {
				return err
			}
			ptr, err = store.ChainEarlyHeadPtr(ctx)
			if err := printPtr("early head", ptr, err); err != nil {
				return err
			}
			ptr, err = store.ChainBalanceHeadPtr(ctx)
			if err := printPtr("balance head", ptr, err); err != nil {
				return err
			}
			ptr, err = store.ChainBalanceEarlyHeadPtr(ctx)
			return printPtr("balance early head", ptr, err)
		},
	}
}

func chainConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm [number] [hash]",
		Short: "delete rival blocks at a confirmed height",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block number %q: %w", args[0], err)
			}
			hash, err := core.ParseHash(args[1])
			if err != nil {
				return err
			}
			store, pool, err := openStore()
			if err != nil {
				return err
			}
			defer pool.Close()
			rows, err := store.ConfirmBlockHash(cmd.Context(), number, hash)
			if err != nil {
				return err
			}
			logrus.Infof("removed %d rival blocks at %d", rows, number)
			return nil
		},
	}
}

func chainCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "delete cached blocks behind the slowest consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ancestors, _ := cmd.Flags().GetInt64("ancestor-count")
			store, pool, err := openStore()
			if err != nil {
				return err
			}
			defer pool.Close()
			floor, rows, err := store.CleanupCachedBlocks(context.Background(), ancestors)
			if err != nil {
				return err
			}
			if floor == nil {
				logrus.Info("nothing to clean up")
				return nil
			}
			logrus.Infof("deleted %d blocks below %d", rows, *floor)
			return nil
		},
	}
	cmd.Flags().Int64("ancestor-count", 50, "blocks to keep behind the head")
	return cmd
}

package main

import (
	"fmt"
	"log/slog"

	"tokensale/config"
	"tokensale/crypto"
	"tokensale/native/bank"
)

type genesisState interface {
	GenesisApplied() (bool, error)
	MarkGenesisApplied() error
}

type minter interface {
	Mint(asset string, to [20]byte, amount uint64) error
}

// applyGenesis credits the configured balances the first time a data
// directory is opened. Later starts leave balances untouched.
func applyGenesis(st genesisState, ledger minter, entries []config.GenesisBalance, logger *slog.Logger) error {
	applied, err := st.GenesisApplied()
	if err != nil {
		return fmt.Errorf("genesis: read marker: %w", err)
	}
	if applied {
		return nil
	}
	for i, entry := range entries {
		account, err := crypto.ParseIdentity(entry.Account)
		if err != nil {
			return fmt.Errorf("genesis[%d]: account: %w", i, err)
		}
		asset, err := bank.NormalizeAsset(entry.Asset)
		if err != nil {
			return fmt.Errorf("genesis[%d]: asset: %w", i, err)
		}
		if err := ledger.Mint(asset, account, entry.Amount); err != nil {
			return fmt.Errorf("genesis[%d]: mint: %w", i, err)
		}
		logger.Info("genesis balance applied", "account", entry.Account, "asset", asset, "amount", entry.Amount)
	}
	return st.MarkGenesisApplied()
}

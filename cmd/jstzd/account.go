package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jstz-dev/jstz-core/core"
)

// newAccountCmd builds `jstzd account show`: a read-only lookup against the
// durable store, opened without replaying into a live Host the way `run`
// does (no inbox is drained, the WAL is simply replayed to reconstruct
// current state and then left untouched — the one top-level transaction
// opened here is never committed).
func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "inspect account state",
	}
	cmd.AddCommand(newAccountShowCmd())
	return cmd
}

func newAccountShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <address>",
		Short: "print balance, nonce and deployed-code size for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			host, err := core.OpenWALHost(core.WALHostConfig{Dir: cfg.Store.Dir, Logger: logger})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			tx := core.NewTxEngine(core.NewDurableStore(host)).Begin()
			defer tx.Rollback()

			accounts := core.NewAccounts(tx)
			balance, err := accounts.BalanceOf(addr)
			if err != nil {
				return err
			}
			nonce, err := accounts.NonceOf(addr)
			if err != nil {
				return err
			}
			code, err := accounts.CodeOf(addr)
			if err != nil {
				return err
			}

			fmt.Printf("address: %s (%s)\n", addr, addr.Kind)
			fmt.Printf("balance: %d\n", balance)
			fmt.Printf("nonce:   %d\n", nonce)
			if code == nil {
				fmt.Println("code:    <none>")
			} else {
				fmt.Printf("code:    %d bytes\n", len(code))
			}
			return nil
		},
	}
}

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jstz-dev/jstz-core/core"
)

// newReceiptCmd builds `jstzd receipt show`: look up a previously processed
// operation's receipt by its hash, stored at dispatch time under
// receipts/<hash>, the way a "jstz-client"-style inspector would.
func newReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "inspect stored receipts",
	}
	cmd.AddCommand(newReceiptShowCmd())
	return cmd
}

func newReceiptShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <operation-hash-hex>",
		Short: "print the receipt stored for an operation hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			raw, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode operation hash: %w", err)
			}
			if len(raw) != core.HashSize {
				return fmt.Errorf("operation hash must be %d bytes, got %d", core.HashSize, len(raw))
			}
			var opHash core.Hash
			copy(opHash[:], raw)

			host, err := core.OpenWALHost(core.WALHostConfig{Dir: cfg.Store.Dir, Logger: logger})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			store := core.NewDurableStore(host)

			r, ok, err := core.LookupReceipt(store, opHash)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no receipt stored for %s", opHash)
			}

			fmt.Printf("operation: %s\n", r.OperationHash)
			fmt.Printf("status:    %v\n", r.Status)
			fmt.Printf("gas used:  %d\n", r.GasUsed)
			if r.Status == core.ReceiptFailed {
				fmt.Printf("error:     %s: %s\n", r.ErrorKind, r.ErrorMessage)
				return nil
			}
			if !r.Deployed.IsZero() {
				fmt.Printf("deployed:  %s\n", r.Deployed)
			}
			if r.Run != nil {
				fmt.Printf("status code: %d\n", r.Run.StatusCode)
				fmt.Printf("body:        %d bytes\n", len(r.Run.Body))
			}
			return nil
		},
	}
}

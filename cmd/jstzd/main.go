// Command jstzd runs a single-node jstz kernel: a cobra CLI wrapping the
// drain-inbox loop (core.Kernel), inbox injection for devnet testing, and a
// read-only inspector endpoint. The CLI style is spf13/cobra subcommands
// with sirupsen/logrus for startup logging; the inspector is a gorilla/mux
// server generalised from a single VM's /execute endpoint to the kernel's
// inbox/account/receipt surface.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jstz-dev/jstz-core/pkg/config"
)

var logger = logrus.StandardLogger()

func main() {
	root := &cobra.Command{
		Use:   "jstzd",
		Short: "jstz smart-rollup kernel node",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(config.AppConfig.Logging.Level)
			if err != nil {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().String("env", "", "configuration environment to merge (e.g. devnet)")
	root.PersistentFlags().String("store-dir", "", "override store.dir")

	root.AddCommand(newRunCmd())
	root.AddCommand(newInboxCmd())
	root.AddCommand(newAccountCmd())
	root.AddCommand(newReceiptCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.KernelConfig, error) {
	env, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(env)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("store-dir"); dir != "" {
		cfg.Store.Dir = dir
	}
	return cfg, nil
}

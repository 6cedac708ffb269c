package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jstz-dev/jstz-core/core"
	"github.com/jstz-dev/jstz-core/jsvm"
)

// newRunCmd builds the `jstzd run` command: open the durable store, drain
// whatever inbox.jsonl holds, and optionally keep polling for newly injected
// messages (--watch) and serve the read-only inspector endpoint (--listen).
// Without --watch the command returns after one pass, even when --listen is
// set.
func newRunCmd() *cobra.Command {
	var watch bool
	var listen string
	var virtualNow int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "drain the inbox and process messages through the kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			host, err := core.OpenWALHost(core.WALHostConfig{
				Dir:              cfg.Store.Dir,
				SnapshotInterval: cfg.Store.SnapshotInterval,
				Logger:           logger,
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			engine := jsvm.NewEngine(virtualNow)
			oracleQueue := core.NewOracleQueue(
				rate.NewLimiter(rate.Limit(cfg.Oracle.RatePerSecond), cfg.Oracle.Burst),
				core.AllowList(cfg.Oracle.AllowList),
			)
			txEngine := core.NewTxEngine(core.NewDurableStore(host))
			dispatcher := core.NewDispatcher(core.DispatcherConfig{
				Host:     host,
				Engine:   txEngine,
				VM:       engine,
				Schedule: cfg.GasSchedule(),
				GasLimit: cfg.Gas.Limit,
				Oracle:   oracleQueue,
			})
			if cfg.Oracle.Enabled {
				engine.OracleSubmit = func(target core.Address, method, url string, headers []core.Header, body []byte) (uint64, error) {
					return oracleQueue.Submit(target, method, url, headers, body, dispatcher.CurrentLevel())
				}
			}
			kernel := core.NewKernel(host, dispatcher, logger)

			if listen != "" {
				go serveInspector(listen, host, dispatcher)
			}

			offsetPath := inboxOffsetPath(cfg.Store.Dir)
			for {
				all, lerr := loadInboxFile(inboxFilePath(cfg.Store.Dir))
				if lerr != nil {
					return fmt.Errorf("load inbox: %w", lerr)
				}
				offset, lerr := readOffset(offsetPath)
				if lerr != nil {
					return fmt.Errorf("read inbox offset: %w", lerr)
				}
				if offset > len(all) {
					offset = len(all)
				}
				host.LoadInbox(all[offset:])

				report, rerr := kernel.RunLevel()
				if rerr != nil {
					logger.WithError(rerr).Error("jstzd: kernel halted on a fatal lifetime violation")
					return rerr
				}
				if err := writeOffset(offsetPath, len(all)); err != nil {
					return fmt.Errorf("write inbox offset: %w", err)
				}
				logger.WithField("messages", report.MessagesProcessed).Info("jstzd: level drained")

				if !watch {
					return nil
				}
				time.Sleep(time.Second)
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling inbox.jsonl for newly injected messages")
	cmd.Flags().StringVar(&listen, "listen", "", "serve the read-only inspector on this address (e.g. 127.0.0.1:7070)")
	cmd.Flags().Int64Var(&virtualNow, "virtual-now", 0, "fixed Unix millisecond value Date.now() reports inside the sandbox")
	return cmd
}

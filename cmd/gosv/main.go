// Command gosv is a lightweight process supervisor for container-like
// entry points: it starts a declarative list of processes in order,
// monitors them, and tears them down in reverse order on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gosv-run/gosv/internal/config"
	"github.com/gosv-run/gosv/internal/gosvlog"
	"github.com/gosv-run/gosv/internal/launcher"
	"github.com/gosv-run/gosv/internal/supervisor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "gosv",
		Short: "gosv runs and supervises a set of cooperating processes",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(&verbose), newDemoCmd(&verbose))
	return root
}

func newRunCmd(verbose *bool) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the processes described by a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
			doc, err := config.Parse(data)
			if err != nil {
				return err
			}
			return runSupervised(*verbose, doc.Processes)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML process list")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// newDemoCmd ports the teacher's setupDemo into a literal process
// list: a long-lived heartbeat daemon and a one-shot that prints and
// exits, both expressed the same way a config file would describe
// them.
func newDemoCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "run a small built-in demo process list",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := []config.ProcessSpec{
				{
					Name: "heartbeat",
					Run: &config.Command{
						Program: "/bin/sh",
						Args:    []string{"-c", "while true; do echo '[heartbeat] alive'; sleep 2; done"},
					},
					Stop: config.Stop{Signal: config.SIGTERM},
				},
				{
					Name: "hello",
					Pre: &config.Command{
						Program: "/bin/sh",
						Args:    []string{"-c", "echo '[hello] one-shot pre ran'"},
					},
					Stop: config.Stop{Signal: config.SIGTERM},
				},
			}
			return runSupervised(*verbose, specs)
		},
	}
}

func runSupervised(verbose bool, processes []config.ProcessSpec) error {
	log, err := gosvlog.New(verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("gosv starting", zap.Int("pid", os.Getpid()), zap.Int("process_count", len(processes)))

	specs := make([]supervisor.Named, len(processes))
	for i, p := range processes {
		specs[i] = launcher.New(p, log)
	}

	// The signal-to-shutdown bridge at the process boundary: the
	// engine itself only ever consumes an abstract shutdown channel
	// (spec.md § 1 names this an external collaborator).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	shutdown := make(chan struct{}, 1)
	go func() {
		if sig, ok := <-sigCh; ok {
			log.Info("received shutdown signal", zap.String("signal", sig.String()))
			shutdown <- struct{}{}
		}
	}()

	ctx := context.Background()
	if err := supervisor.Run(ctx, log, specs, shutdown); err != nil {
		log.Error("supervisor exited with error", zap.Error(err))
		return err
	}
	return nil
}

// main.go - veilvault: share accounting for tokenized real-world asset vaults.
//
// Usage:
//
//	veilvault serve                      # run the HTTP API
//	veilvault init --owner <hex> --shares 1000000000 --hash <hex>
//	veilvault mint --vault <hex> --caller <hex> --amount 100000000
//	veilvault demo                       # walk through a full vault lifecycle in memory
//
// Every command reads veilvault.yaml (or --config) and creates it with
// defaults when it does not exist.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "veilvault",
		Short:         "Share accounting for tokenized real-world asset vaults",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "veilvault.yaml", "path to the configuration file")

	// withApp opens the configured application for the duration of one command.
	withApp := func(run func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a)
		}
	}

	root.AddCommand(
		serveCmd(withApp),
		fundCmd(withApp),
		initCmd(withApp),
		mintCmd(withApp),
		burnCmd(withApp),
		reattestCmd(withApp),
		showCmd(withApp),
		auditCmd(withApp),
		deriveCmd(),
		keysCmd(),
		attestCmd(),
		demoCmd(),
	)
	return root
}

type appRunner func(run func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

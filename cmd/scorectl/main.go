// Package main is a command line client for the sealed scores API. It seals
// scores to the cluster key, submits them and decrypts the results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	server  string
	keyPath string
	token   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "scorectl",
		Short:         "Submit confidential scores and read sealed results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.server, "server", envOr("SCORECTL_SERVER", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&g.keyPath, "key", envOr("SCORECTL_KEY", "scorectl-key.json"), "key file written by keygen")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("SCORECTL_TOKEN"), "bearer token for protected routes")

	root.AddCommand(
		keygenCmd(g),
		tokenCmd(),
		submitCmd(g),
		resultCmd(g),
		jobCmd(g),
		watchCmd(g),
	)
	return root
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

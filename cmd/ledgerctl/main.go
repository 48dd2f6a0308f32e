package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/invoice-ledger/cmd/ledgerctl/cli"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	root := cli.NewRootCommand(cli.DefaultEnv(os.Stdout, logger))
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

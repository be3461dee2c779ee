package main

import (
	"log/slog"
	"os"

	_ "github.com/diggerhq/credresolver/resolvers/bucketrole"
	_ "github.com/diggerhq/credresolver/resolvers/rules"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Error occurred during command exec", "error", err)
		os.Exit(1)
	}
}

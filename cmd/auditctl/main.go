// Command auditctl is a small operational debug tool for the audit ledger:
// initialize the schema if absent and print the most recent events, mirroring
// the original's core/acl.py "__main__" debug block.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/finllm/gateway/internal/audit"
	"github.com/finllm/gateway/internal/config"
)

func main() {
	cfg := config.Get()

	if cfg.Audit.EncryptionKey == "" {
		fmt.Fprintln(os.Stderr, "auditctl: DB_ENCRYPTION_KEY is not set")
		os.Exit(1)
	}

	ledger, err := audit.Open(cfg.Audit.DatabaseURL, cfg.Audit.EncryptionKey, time.Duration(cfg.Audit.InsertTimeoutSec)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: open ledger: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	ctx := context.Background()
	if err := ledger.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: init schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Initialized audit ledger")

	events, err := ledger.Recent(ctx, 10)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: list recent events: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Recent 10 events:")
	for _, ev := range events {
		fmt.Printf("%+v\n", ev)
	}
}

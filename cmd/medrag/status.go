// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/sigil-dev/medrag/pkg/health"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server and provider health",
		Long:  "Query a running server's /health endpoint and print the provider health report.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:8003", "server address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	var report health.Report
	if err := newAPIClient(addr).getJSON("/health", &report); err != nil {
		if mederr.HasCode(err, mederr.CodeCLIServerNotRunning) {
			_, _ = fmt.Fprintf(out, "medrag at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "medrag at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "medrag at %s: %s\n", addr, report.Status)
	for _, name := range slices.Sorted(maps.Keys(report.Providers)) {
		m := report.Providers[name]
		state := "available"
		if !m.Available {
			state = "cooling down"
		}
		_, _ = fmt.Fprintf(out, "  %-24s %s (failures: %d)\n", name, state, m.FailureCount)
	}
	return nil
}

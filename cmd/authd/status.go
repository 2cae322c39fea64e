// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/store"
)

const statusTimeout = 2 * time.Second

// ServerStatus is the health of a running authd as seen through its
// observability endpoint.
type ServerStatus struct {
	Addr    string `json:"addr"`
	Running bool   `json:"running"`
	Health  string `json:"health,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SchemaStatus is the migration state of the account database.
type SchemaStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name,omitempty"`
	Latest  uint   `json:"latest"`
	Dirty   bool   `json:"dirty"`
	Pending []uint `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Server ServerStatus  `json:"server"`
	Schema *SchemaStatus `json:"schema,omitempty"`
}

type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running authd and its database",
		Long: `Show the readiness health of a running authd, queried through metrics.addr,
and the migration state of the account database when the postgres store is
configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, sc *statusConfig) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	report := StatusReport{
		Server: queryServerStatus(ctx, &http.Client{Timeout: statusTimeout}, cfg.Metrics.Addr),
	}
	if cfg.Store.Driver == config.DriverPostgres && cfg.Store.DatabaseURL != "" {
		schema := querySchemaStatus(cfg.Store.DatabaseURL)
		report.Schema = &schema
	}

	if sc.jsonOutput {
		out, err := formatStatusJSON(report)
		if err != nil {
			return err
		}
		cmd.Println(out)
		return nil
	}
	cmd.Print(formatStatusTable(report))
	return nil
}

// queryServerStatus probes the readiness endpoint served on addr.
func queryServerStatus(ctx context.Context, client *http.Client, addr string) ServerStatus {
	status := ServerStatus{Addr: addr}
	if addr == "" {
		status.Error = "metrics.addr not configured"
		return status
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz/readiness", http.NoBody)
	if err != nil {
		status.Error = fmt.Sprintf("invalid address: %v", err)
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	status.Running = true
	if resp.StatusCode == http.StatusOK {
		status.Health = "ready"
	} else {
		status.Health = "not ready"
	}
	return status
}

func querySchemaStatus(url string) SchemaStatus {
	var status SchemaStatus

	m, err := newSchemaMigrator(url)
	if err != nil {
		status.Error = fmt.Sprintf("failed to open database: %v", err)
		return status
	}
	defer func() { _ = m.Close() }()

	ms, err := m.Status()
	if err != nil {
		status.Error = fmt.Sprintf("failed to read schema version: %v", err)
		return status
	}
	status.Version = ms.Current
	status.Latest = ms.Latest
	status.Dirty = ms.Dirty
	status.Pending = ms.Pending
	if name, err := store.MigrationName(ms.Current); err == nil {
		status.Name = name
	}
	return status
}

// formatStatusTable formats the report as a human-readable table.
func formatStatusTable(report StatusReport) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "---------\t------\t------")

	server := report.Server
	if server.Running {
		_, _ = fmt.Fprintf(w, "server\trunning\t%s (%s)\n", server.Health, server.Addr)
	} else {
		reason := "not running"
		if server.Error != "" {
			reason = server.Error
		}
		_, _ = fmt.Fprintf(w, "server\tstopped\t%s\n", reason)
	}

	if schema := report.Schema; schema != nil {
		switch {
		case schema.Error != "":
			_, _ = fmt.Fprintf(w, "schema\tunknown\t%s\n", schema.Error)
		case schema.Dirty:
			_, _ = fmt.Fprintf(w, "schema\tdirty\tversion %d needs migrate force\n", schema.Version)
		case len(schema.Pending) > 0:
			_, _ = fmt.Fprintf(w, "schema\tbehind\tversion %d of %d, %d pending\n",
				schema.Version, schema.Latest, len(schema.Pending))
		default:
			_, _ = fmt.Fprintf(w, "schema\tcurrent\t%s\n", schemaLabel(schema))
		}
	}

	_ = w.Flush()
	return buf.String()
}

func schemaLabel(s *SchemaStatus) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("version %d", s.Version)
}

// formatStatusJSON formats the report as JSON.
func formatStatusJSON(report StatusReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", oops.Code("STATUS_ENCODE_FAILED").Wrap(err)
	}
	return string(data), nil
}

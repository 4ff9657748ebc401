package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"prionotify/internal/app"
	"prionotify/internal/clock"
	"prionotify/internal/commands"
	"prionotify/internal/state"
	"prionotify/internal/storage"
	logx "prionotify/pkg/logx"
)

func init() {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or maintain persisted state (stop the bot first; it owns the snapshot)",
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print filter mode, contacts, snooze and dedup counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), func(_ storage.Store, st *state.Store) error {
				sum := st.Summary()
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(sum)
				}
				writeSummary(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	stateCmd.AddCommand(showCmd)

	var days int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop dedup records older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be > 0")
			}
			return withState(cmd.Context(), func(_ storage.Store, st *state.Store) error {
				removed := st.CleanupOlderThan(time.Duration(days) * 24 * time.Hour)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d records, kept %d\n", removed, st.ProcessedCount())
				return nil
			})
		},
	}
	cleanupCmd.Flags().IntVarP(&days, "days", "d", 30, "retention in days")
	stateCmd.AddCommand(cleanupCmd)

	var n int
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the latest audit entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), func(be storage.Store, _ *state.Store) error {
				entries, err := be.RecentAudit(cmd.Context(), n)
				if err != nil {
					return err
				}
				for _, e := range entries {
					writeAudit(cmd.OutOrStdout(), e)
				}
				return nil
			})
		},
	}
	auditCmd.Flags().IntVarP(&n, "limit", "n", 20, "number of entries")
	stateCmd.AddCommand(auditCmd)

	rootCmd.AddCommand(stateCmd)
}

func withState(ctx context.Context, fn func(be storage.Store, st *state.Store) error) error {
	_, rt, err := app.LoadRuntime(options())
	if err != nil {
		return err
	}
	log := logx.NewWriter(os.Stderr, "warn")
	be, st, err := app.OpenState(ctx, rt, clock.Real{}, log)
	if err != nil {
		return err
	}
	defer be.Close()
	return fn(be, st)
}

func writeSummary(w io.Writer, s state.Summary) {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode:          %s\n", s.Mode)
	fmt.Fprintf(&b, "Priority:      %d\n", len(s.Priority))
	for _, c := range s.Priority {
		fmt.Fprintf(&b, "  %d  %s\n", c.ID, c.Name)
	}
	fmt.Fprintf(&b, "Muted:         %d\n", len(s.Muted))
	for _, c := range s.Muted {
		fmt.Fprintf(&b, "  %d  %s\n", c.ID, c.Name)
	}
	if s.SnoozeActive {
		fmt.Fprintf(&b, "Snooze:        active (%s) until %s\n", s.SnoozeBehavior, s.SnoozeUntil.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Snooze:        inactive\n")
	}
	fmt.Fprintf(&b, "Queued:        %d\n", s.Queued)
	fmt.Fprintf(&b, "Processed:     %d\n", s.Processed)
	fmt.Fprintf(&b, "Last cleanup:  %s\n", s.LastCleanup.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Timezone:      %s\n", commands.FormatOffset(s.TimezoneOffset))
	_, _ = io.WriteString(w, b.String())
}

func writeAudit(w io.Writer, e storage.AuditEntry) {
	status := "ok"
	if !e.OK {
		status = "fail"
	}
	line := fmt.Sprintf("%s  %-7s %-16s %-4s", e.At.UTC().Format(time.RFC3339), e.Kind, e.Action, status)
	if e.Target != "" {
		line += "  target=" + e.Target
	}
	if e.ChatID != 0 {
		line += fmt.Sprintf("  chat=%d msg=%d", e.ChatID, e.MessageID)
	}
	if e.Meta != "" {
		line += "  " + e.Meta
	}
	if e.Error != "" {
		line += "  err=" + e.Error
	}
	_, _ = fmt.Fprintln(w, line)
}

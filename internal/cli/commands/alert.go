package commands

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/br00tm/infrawatch/internal/api/client"
	"github.com/br00tm/infrawatch/internal/models"
)

func newAlertCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert management commands",
		Aliases: []string{"alerts", "a"},
	}

	cmd.AddCommand(newAlertListCommand(st))
	cmd.AddCommand(newAlertGetCommand(st))
	cmd.AddCommand(newAlertStatsCommand(st))
	cmd.AddCommand(newAlertActionCommand(st, "acknowledge", "acknowledged", []string{"ack"}))
	cmd.AddCommand(newAlertActionCommand(st, "resolve", "resolved", nil))
	cmd.AddCommand(newAlertActionCommand(st, "silence", "silenced", nil))
	return cmd
}

func newAlertListCommand(st *state) *cobra.Command {
	var (
		status   string
		severity string
		source   string
		ruleID   uint
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List alerts",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := st.client().ListAlerts(cmd.Context(), client.AlertQuery{
				Status:   status,
				Severity: severity,
				Source:   source,
				RuleID:   ruleID,
				Page:     page,
				PageSize: pageSize,
			})
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			return st.render(cmd.OutOrStdout(), res, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "ID\tTITLE\tSEVERITY\tSTATUS\tSOURCE\tSCOPE\tCREATED")
				for _, a := range res.Items {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s/%s\t%s\n",
						a.ID, a.Title, a.Severity, a.Status, a.Source,
						a.Namespace, a.Cluster, formatTime(&a.CreatedAt))
				}
				fmt.Fprintf(w, "\npage %d of %d, %d alerts\n", res.Page, res.Pages, res.Total)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (active/acknowledged/resolved/silenced)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity (info/warning/error/critical)")
	cmd.Flags().StringVar(&source, "source", "", "filter by source (alert_rule/manual)")
	cmd.Flags().UintVar(&ruleID, "rule", 0, "filter by rule id")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "alerts per page")
	return cmd
}

func printAlert(st *state, cmd *cobra.Command, a *models.Alert) error {
	return st.render(cmd.OutOrStdout(), a, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "ID:\t%d\n", a.ID)
		fmt.Fprintf(w, "Title:\t%s\n", a.Title)
		fmt.Fprintf(w, "Description:\t%s\n", a.Description)
		fmt.Fprintf(w, "Severity:\t%s\n", a.Severity)
		fmt.Fprintf(w, "Status:\t%s\n", a.Status)
		fmt.Fprintf(w, "Source:\t%s\n", a.Source)
		if a.RuleID != nil {
			fmt.Fprintf(w, "Rule:\t%d\n", *a.RuleID)
		}
		fmt.Fprintf(w, "Scope:\t%s/%s\n", a.Namespace, a.Cluster)
		fmt.Fprintf(w, "Created:\t%s\n", formatTime(&a.CreatedAt))
		if a.AcknowledgedBy != "" {
			fmt.Fprintf(w, "Acknowledged:\t%s by %s\n", formatTime(a.AcknowledgedAt), a.AcknowledgedBy)
		}
		fmt.Fprintf(w, "Resolved:\t%s\n", formatTime(a.ResolvedAt))
	})
}

func newAlertGetCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "get [alert_id]",
		Short: "Show one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := st.client().GetAlert(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get alert: %w", err)
			}
			return printAlert(st, cmd, a)
		},
	}
}

func newAlertActionCommand(st *state, action, done string, aliases []string) *cobra.Command {
	return &cobra.Command{
		Use:     action + " [alert_id]",
		Short:   fmt.Sprintf("Mark an alert as %s", done),
		Aliases: aliases,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			c := st.client()
			var run func(context.Context, uint) (*models.Alert, error)
			switch action {
			case "acknowledge":
				run = c.AcknowledgeAlert
			case "resolve":
				run = c.ResolveAlert
			default:
				run = c.SilenceAlert
			}

			a, err := run(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to %s alert: %w", action, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %d %s\n", a.ID, done)
			return nil
		},
	}
}

func newAlertStatsCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show alert counts by status, severity and source",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := st.client().AlertStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get alert stats: %w", err)
			}

			return st.render(cmd.OutOrStdout(), stats, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Active:\t%d\n", stats.TotalActive)
				fmt.Fprintf(w, "Acknowledged:\t%d\n", stats.TotalAcknowledged)
				fmt.Fprintf(w, "Resolved:\t%d\n", stats.TotalResolved)
				fmt.Fprintf(w, "Silenced:\t%d\n", stats.TotalSilenced)
				writeCounts(w, "Severity", stats.BySeverity)
				writeCounts(w, "Source", stats.BySource)
			})
		},
	}
}

func writeCounts(w *tabwriter.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "\n%s\tCOUNT\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
}

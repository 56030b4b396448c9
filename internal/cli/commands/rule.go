package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/models"
)

func newRuleCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Short:   "Alert rule management commands",
		Aliases: []string{"rule", "r"},
	}

	cmd.AddCommand(newRuleListCommand(st))
	cmd.AddCommand(newRuleGetCommand(st))
	cmd.AddCommand(newRuleCreateCommand(st))
	cmd.AddCommand(newRuleUpdateCommand(st))
	cmd.AddCommand(newRuleDeleteCommand(st))
	cmd.AddCommand(newRuleToggleCommand(st, true))
	cmd.AddCommand(newRuleToggleCommand(st, false))
	cmd.AddCommand(newRuleValidateCommand(st))
	cmd.AddCommand(newRuleImportCommand(st))
	cmd.AddCommand(newRuleExportCommand(st))
	cmd.AddCommand(newRuleTestCommand(st))
	return cmd
}

func describeConditions(conds []models.AlertCondition) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, fmt.Sprintf("%s %s %g (%ds)", c.MetricName, c.Operator, c.Threshold, c.DurationSeconds))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " AND ")
}

func describeChannels(chs []models.ChannelKind) string {
	if len(chs) == 0 {
		return "-"
	}
	names := make([]string, len(chs))
	for i, ch := range chs {
		names[i] = string(ch)
	}
	return strings.Join(names, ",")
}

func printRules(st *state, cmd *cobra.Command, rules []models.AlertRule) error {
	return st.render(cmd.OutOrStdout(), rules, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tNAME\tSEVERITY\tENABLED\tCONDITIONS\tCHANNELS\tTRIGGERS\tLAST TRIGGERED")
		for _, r := range rules {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\t%d\t%s\n",
				r.ID, r.Name, r.Severity, r.Enabled,
				describeConditions(r.Conditions), describeChannels(r.NotificationChannels),
				r.TriggerCount, formatTime(r.LastTriggered))
		}
	})
}

func printRule(st *state, cmd *cobra.Command, r *models.AlertRule) error {
	return st.render(cmd.OutOrStdout(), r, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "ID:\t%d\n", r.ID)
		fmt.Fprintf(w, "Name:\t%s\n", r.Name)
		fmt.Fprintf(w, "Description:\t%s\n", r.Description)
		fmt.Fprintf(w, "Severity:\t%s\n", r.Severity)
		fmt.Fprintf(w, "Enabled:\t%t\n", r.Enabled)
		fmt.Fprintf(w, "Conditions:\t%s\n", describeConditions(r.Conditions))
		fmt.Fprintf(w, "Scope:\t%s/%s\n", models.ScopeOr(r.NamespaceFilter), models.ScopeOr(r.ClusterFilter))
		fmt.Fprintf(w, "Channels:\t%s\n", describeChannels(r.NotificationChannels))
		fmt.Fprintf(w, "Cooldown:\t%dm\n", r.CooldownMinutes)
		fmt.Fprintf(w, "Triggers:\t%d\n", r.TriggerCount)
		fmt.Fprintf(w, "Last triggered:\t%s\n", formatTime(r.LastTriggered))
	})
}

func newRuleListCommand(st *state) *cobra.Command {
	var enabled string

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List alert rules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *bool
			if enabled != "" {
				v, err := strconv.ParseBool(enabled)
				if err != nil {
					return fmt.Errorf("--enabled must be true or false")
				}
				filter = &v
			}

			rules, err := st.client().ListRules(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			return printRules(st, cmd, rules)
		},
	}

	cmd.Flags().StringVar(&enabled, "enabled", "", "filter by enabled status (true/false)")
	return cmd
}

func newRuleGetCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "get [rule_id]",
		Short: "Show one alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rule, err := st.client().GetRule(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get rule: %w", err)
			}
			return printRule(st, cmd, rule)
		},
	}
}

func newRuleCreateCommand(st *state) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an alert rule from a JSON or YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			rule, err := st.client().CreateRule(cmd.Context(), doc)
			if err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}
			return printRule(st, cmd, rule)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleUpdateCommand(st *state) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update [rule_id]",
		Short: "Update an alert rule; fields missing from the file are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			rule, err := st.client().UpdateRule(cmd.Context(), id, doc)
			if err != nil {
				return fmt.Errorf("failed to update rule: %w", err)
			}
			return printRule(st, cmd, rule)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleDeleteCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [rule_id]",
		Short:   "Delete an alert rule",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := st.client().DeleteRule(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %d deleted\n", id)
			return nil
		},
	}
}

func newRuleToggleCommand(st *state, enable bool) *cobra.Command {
	use, verb := "disable", "disabled"
	if enable {
		use, verb = "enable", "enabled"
	}
	return &cobra.Command{
		Use:   use + " [rule_id]",
		Short: strings.ToUpper(use[:1]) + use[1:] + " an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := st.client().SetRuleEnabled(cmd.Context(), id, enable); err != nil {
				return fmt.Errorf("failed to %s rule: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %d %s\n", id, verb)
			return nil
		},
	}
}

func newRuleValidateCommand(st *state) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a rule file without saving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			if err := st.client().ValidateRule(cmd.Context(), doc); err != nil {
				return fmt.Errorf("rule is invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Rule is valid")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleImportCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import rules from a JSON or YAML file, upserting by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			res, err := st.client().ImportRules(cmd.Context(), data, alert.FormatFromPath(args[0]))
			if err != nil {
				return fmt.Errorf("failed to import rules: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported rules: %d created, %d updated\n", res.Created, res.Updated)
			return nil
		},
	}
}

func newRuleExportCommand(st *state) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export every rule to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := alert.Format(format)
			if len(args) == 1 && !cmd.Flags().Changed("format") {
				f = alert.FormatFromPath(args[0])
			}
			if f != alert.FormatJSON && f != alert.FormatYAML {
				return fmt.Errorf("unknown format %q", format)
			}

			data, err := st.client().ExportRules(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("failed to export rules: %w", err)
			}
			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rules exported to %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(alert.FormatYAML), "json or yaml")
	return cmd
}

func newRuleTestCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "test [rule_id]",
		Short: "Evaluate a rule against current data without firing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := st.client().TestRule(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to test rule: %w", err)
			}

			return st.render(cmd.OutOrStdout(), res, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Rule:\t%s\n", res.Rule.Name)
				fmt.Fprintf(w, "Would fire:\t%t\n", res.Result.Triggered)
				fmt.Fprintf(w, "In cooldown:\t%t\n\n", res.Result.InCooldown)
				fmt.Fprintln(w, "METRIC\tOPERATOR\tTHRESHOLD\tSAMPLES\tMEAN\tMET")
				for _, c := range res.Result.Conditions {
					mean := "-"
					if c.Mean != nil {
						mean = strconv.FormatFloat(*c.Mean, 'f', 2, 64)
					}
					fmt.Fprintf(w, "%s\t%s\t%g\t%d\t%s\t%t\n", c.MetricName, c.Operator, c.Threshold, c.Samples, mean, c.Met)
				}
			})
		},
	}
}

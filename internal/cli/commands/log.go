package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/br00tm/infrawatch/internal/models"
)

func newLogCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "log",
		Short:   "Push and search log entries",
		Aliases: []string{"logs", "l"},
	}

	cmd.AddCommand(newLogPushCommand(st))
	cmd.AddCommand(newLogQueryCommand(st))
	return cmd
}

func newLogPushCommand(st *state) *cobra.Command {
	var (
		file   string
		entry  models.LogEntry
		level  string
		labels []string
	)

	cmd := &cobra.Command{
		Use:   "push [message]",
		Short: "Push one log entry or a batch from a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var batch []models.LogEntry
			if file != "" {
				doc, err := readDocument(cmd, file)
				if err != nil {
					return err
				}
				if err := decodeBatch(doc, "logs", &batch); err != nil {
					return fmt.Errorf("failed to parse %s: %w", file, err)
				}
			} else {
				if len(args) == 0 {
					return fmt.Errorf("a message argument is required without --file")
				}
				l, err := parseLabels(labels)
				if err != nil {
					return err
				}
				entry.Message = args[0]
				entry.Level = models.LogLevel(level)
				entry.Labels = l
				batch = []models.LogEntry{entry}
			}

			n, err := st.client().PushLogs(cmd.Context(), batch)
			if err != nil {
				return fmt.Errorf("failed to push logs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d log entr(ies) stored\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML batch file, - for stdin")
	cmd.Flags().StringVar(&level, "level", "", "log level (debug/info/warning/error/critical)")
	cmd.Flags().StringVar(&entry.Source, "source", "", "source host or service")
	cmd.Flags().StringVar(&entry.Namespace, "namespace", "", "namespace")
	cmd.Flags().StringVar(&entry.Cluster, "cluster", "", "cluster")
	cmd.Flags().StringVar(&entry.PodName, "pod", "", "pod name")
	cmd.Flags().StringVar(&entry.ContainerName, "container", "", "container name")
	cmd.Flags().StringArrayVarP(&labels, "label", "l", nil, "label as key=value, repeatable")
	return cmd
}

func newLogQueryCommand(st *state) *cobra.Command {
	var (
		qf        queryFlags
		level     string
		source    string
		namespace string
		search    string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search stored log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query(map[string]string{
				"level":     level,
				"source":    source,
				"namespace": namespace,
				"search":    search,
			})
			if err != nil {
				return err
			}

			res, err := st.client().QueryLogs(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to query logs: %w", err)
			}

			return st.render(cmd.OutOrStdout(), res, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "TIMESTAMP\tLEVEL\tSOURCE\tNAMESPACE\tMESSAGE")
				for _, e := range res.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						formatTime(&e.Timestamp), e.Level, e.Source, e.Namespace, e.Message)
				}
				fmt.Fprintf(w, "\npage %d of %d, %d entries\n", res.Page, res.Pages, res.Total)
			})
		},
	}

	qf.register(cmd)
	cmd.Flags().StringVar(&level, "level", "", "filter by level")
	cmd.Flags().StringVar(&source, "source", "", "filter by source")
	cmd.Flags().StringVar(&namespace, "namespace", "", "filter by namespace")
	cmd.Flags().StringVar(&search, "search", "", "substring to look for in the message")
	return cmd
}

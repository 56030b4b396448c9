package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/br00tm/infrawatch/internal/api/client"
	"github.com/br00tm/infrawatch/internal/models"
)

func newMetricCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "metric",
		Short:   "Push and query metric samples",
		Aliases: []string{"metrics", "m"},
	}

	cmd.AddCommand(newMetricPushCommand(st))
	cmd.AddCommand(newMetricQueryCommand(st))
	return cmd
}

// queryFlags are the filters shared by the metric and log query commands.
type queryFlags struct {
	since    time.Duration
	start    string
	end      string
	page     int
	pageSize int
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&q.since, "since", 0, "only samples newer than this (e.g. 15m)")
	cmd.Flags().StringVar(&q.start, "start", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&q.end, "end", "", "end time (RFC3339)")
	cmd.Flags().IntVar(&q.page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.pageSize, "page-size", 50, "items per page")
}

func (q *queryFlags) query(filters map[string]string) (client.Query, error) {
	from, to, err := timeWindow(q.since, q.start, q.end)
	if err != nil {
		return client.Query{}, err
	}
	return client.Query{Filters: filters, Start: from, End: to, Page: q.page, PageSize: q.pageSize}, nil
}

// parseLabels turns repeated key=value flags into a label map.
func parseLabels(pairs []string) (models.Labels, error) {
	labels := models.Labels{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q, want key=value", p)
		}
		labels[k] = v
	}
	return labels, nil
}

// decodeBatch accepts either a bare array or an object holding the array under key.
func decodeBatch(doc json.RawMessage, key string, out interface{}) error {
	trimmed := strings.TrimSpace(string(doc))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(doc, out)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(doc, &wrapped); err != nil {
		return err
	}
	items, ok := wrapped[key]
	if !ok {
		return fmt.Errorf("document has no %q list", key)
	}
	return json.Unmarshal(items, out)
}

func newMetricPushCommand(st *state) *cobra.Command {
	var (
		file      string
		sample    models.Metric
		labels    []string
		metricTyp string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push one sample from flags or a batch from a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var batch []models.Metric
			if file != "" {
				doc, err := readDocument(cmd, file)
				if err != nil {
					return err
				}
				if err := decodeBatch(doc, "metrics", &batch); err != nil {
					return fmt.Errorf("failed to parse %s: %w", file, err)
				}
			} else {
				if sample.Name == "" || !cmd.Flags().Changed("value") {
					return fmt.Errorf("--name and --value are required without --file")
				}
				l, err := parseLabels(labels)
				if err != nil {
					return err
				}
				sample.Labels = l
				sample.MetricType = models.MetricType(metricTyp)
				batch = []models.Metric{sample}
			}

			n, err := st.client().PushMetrics(cmd.Context(), batch)
			if err != nil {
				return fmt.Errorf("failed to push metrics: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d metric(s) stored\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML batch file, - for stdin")
	cmd.Flags().StringVar(&sample.Name, "name", "", "metric name")
	cmd.Flags().Float64Var(&sample.Value, "value", 0, "sample value")
	cmd.Flags().StringVar(&sample.Source, "source", "", "source host or service")
	cmd.Flags().StringVar(&metricTyp, "type", "", "metric type (cpu/memory/disk/network/.../custom)")
	cmd.Flags().StringVar(&sample.Unit, "unit", "", "unit of the value")
	cmd.Flags().StringVar(&sample.Namespace, "namespace", "", "namespace")
	cmd.Flags().StringVar(&sample.Cluster, "cluster", "", "cluster")
	cmd.Flags().StringArrayVarP(&labels, "label", "l", nil, "label as key=value, repeatable")
	return cmd
}

func newMetricQueryCommand(st *state) *cobra.Command {
	var (
		qf        queryFlags
		name      string
		source    string
		namespace string
		cluster   string
		metricTyp string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stored metric samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query(map[string]string{
				"name":        name,
				"source":      source,
				"namespace":   namespace,
				"cluster":     cluster,
				"metric_type": metricTyp,
			})
			if err != nil {
				return err
			}

			res, err := st.client().QueryMetrics(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to query metrics: %w", err)
			}

			return st.render(cmd.OutOrStdout(), res, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "TIMESTAMP\tNAME\tVALUE\tTYPE\tSOURCE\tSCOPE")
				for _, m := range res.Items {
					value := fmt.Sprintf("%.2f", m.Value)
					if m.Unit != "" {
						value += " " + m.Unit
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s/%s\n",
						formatTime(&m.Timestamp), m.Name, value, m.MetricType, m.Source, m.Namespace, m.Cluster)
				}
				fmt.Fprintf(w, "\npage %d of %d, %d samples\n", res.Page, res.Pages, res.Total)
			})
		},
	}

	qf.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "filter by metric name")
	cmd.Flags().StringVar(&source, "source", "", "filter by source")
	cmd.Flags().StringVar(&namespace, "namespace", "", "filter by namespace")
	cmd.Flags().StringVar(&cluster, "cluster", "", "filter by cluster")
	cmd.Flags().StringVar(&metricTyp, "type", "", "filter by metric type")
	return cmd
}

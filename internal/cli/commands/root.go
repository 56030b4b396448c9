// Package commands implements the iwctl command tree.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/br00tm/infrawatch/internal/api/client"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// state is shared by every subcommand of one root command.
type state struct {
	v          *viper.Viper
	configFile string
	output     string
}

func NewRootCommand() *cobra.Command {
	st := &state{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "iwctl",
		Short: "iwctl - command line client for InfraWatch",
		Long: `iwctl talks to the InfraWatch API. It manages alert rules and alerts,
and pushes or queries metrics and logs.

Credentials come from INFRAWATCH_TOKEN or INFRAWATCH_API_KEY, or from the
token saved by "iwctl login".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&st.configFile, "config", "", "config file (default $HOME/.iwctl.yaml)")
	flags.StringVarP(&st.output, "output", "o", outputTable, "output format: table or json")
	flags.String("api-url", "", "API base URL (env INFRAWATCH_API_URL)")
	_ = st.v.BindPFlag("api_url", flags.Lookup("api-url"))

	cmd.AddCommand(newLoginCommand(st))
	cmd.AddCommand(newRuleCommand(st))
	cmd.AddCommand(newAlertCommand(st))
	cmd.AddCommand(newMetricCommand(st))
	cmd.AddCommand(newLogCommand(st))
	return cmd
}

func (st *state) load() error {
	if st.output != outputTable && st.output != outputJSON {
		return fmt.Errorf("unknown output format %q", st.output)
	}

	_ = st.v.BindEnv("api_url", "INFRAWATCH_API_URL")
	_ = st.v.BindEnv("token", "INFRAWATCH_TOKEN")
	_ = st.v.BindEnv("api_key", "INFRAWATCH_API_KEY")

	if st.configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		st.configFile = filepath.Join(home, ".iwctl.yaml")
	}
	st.v.SetConfigFile(st.configFile)
	if err := st.v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", st.configFile, err)
	}
	return nil
}

func (st *state) client() *client.Client {
	token := st.v.GetString("token")
	apiKey := st.v.GetString("api_key")
	// An API key beats a saved login token unless INFRAWATCH_TOKEN is set.
	if os.Getenv("INFRAWATCH_TOKEN") == "" && apiKey != "" {
		token = ""
	}
	return client.New(st.v.GetString("api_url"), token, apiKey, nil)
}

// saveToken writes the login token and API URL to the config file.
func (st *state) saveToken(token string) error {
	out := viper.New()
	out.Set("token", token)
	if u := st.v.GetString("api_url"); u != "" {
		out.Set("api_url", u)
	}
	if err := out.WriteConfigAs(st.configFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", st.configFile, err)
	}
	return os.Chmod(st.configFile, 0o600)
}

// render prints v as JSON or hands a tabwriter to table.
func (st *state) render(out io.Writer, v interface{}, table func(w *tabwriter.Writer)) error {
	if st.output == outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	table(w)
	return w.Flush()
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// readDocument reads a JSON or YAML file ("-" for stdin) and returns it as JSON.
func readDocument(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if json.Valid(data) {
		return data, nil
	}

	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	converted, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return converted, nil
}

// timeWindow resolves --since or --start/--end into a query range.
func timeWindow(since time.Duration, start, end string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if since > 0 {
		t := time.Now().UTC().Add(-since)
		from = &t
	}
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --start: %w", err)
		}
		from = &t
	}
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --end: %w", err)
		}
		to = &t
	}
	return from, to, nil
}

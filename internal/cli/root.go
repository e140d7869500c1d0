// Package cli implements the epicgraph CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/deep"
	"github.com/rcliao/epicgraph/internal/schema"
	"github.com/rcliao/epicgraph/internal/store"
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "epicgraph",
	Short: "Graph-consistent document store",
	Long: "A document store that keeps a graph consistent: inverse references, joined copies " +
		"and union fields are maintained on every write. SQLite-backed, single binary.",
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := RootCmd.PersistentFlags()
	pf.StringP("db", "d", "", "Database path (default: $EPICGRAPH_DB or ~/.epicgraph/graph.db)")
	pf.StringP("config", "c", "", "Schema file (default: $EPICGRAPH_CONFIG or ~/.epicgraph/schema.toml)")
	pf.Int("flush-concurrency", cache.DefaultFlushConcurrency, "Max concurrent writes per flush")
	pf.Int("join-concurrency", 0, "Max concurrent loads while resolving joins (0 = unbounded)")
	pf.BoolP("verbose", "v", false, "Log debug output to stderr")

	for _, name := range []string{"db", "config", "flush-concurrency", "join-concurrency", "verbose"} {
		viper.BindPFlag(name, pf.Lookup(name))
	}
}

func initConfig() {
	viper.SetEnvPrefix("EPICGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func homePath(name string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".epicgraph", name)
}

func getDBPath() string {
	if p := viper.GetString("db"); p != "" {
		return p
	}
	return homePath("graph.db")
}

func getConfigPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return homePath("schema.toml")
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func loadSchema() (*schema.Config, error) {
	return schema.Load(getConfigPath())
}

func newLogger() *zap.SugaredLogger {
	var (
		l   *zap.Logger
		err error
	)
	if viper.GetBool("verbose") {
		l, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		l, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// openEngine opens the store and schema. The returned func releases both.
func openEngine() (*deep.Engine, *store.SQLiteStore, func()) {
	cfg, err := loadSchema()
	if err != nil {
		exitErr("load schema", err)
	}
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	logger := newLogger()
	e := deep.New(cfg, s,
		deep.WithLogger(logger),
		deep.WithFlushConcurrency(viper.GetInt("flush-concurrency")),
		deep.WithJoinConcurrency(viper.GetInt("join-concurrency")),
	)
	return e, s, func() {
		logger.Sync()
		s.Close()
	}
}

// readInput returns the positional args joined, or stdin when piped.
func readInput(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

// parseValue reads a flag value as JSON, falling back to a plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// parseAssignments turns path=value pairs into a map.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected path=value, got %q", p)
		}
		out[k] = parseValue(v)
	}
	return out, nil
}

func parseJoins(s string) (schema.Joins, error) {
	if s == "" {
		return nil, nil
	}
	var raw any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("parse joins: %w", err)
	}
	return schema.ParseJoins(raw)
}

func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

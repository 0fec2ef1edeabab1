package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/getmockd/imposter/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	// Persistent flags available to all subcommands
	logLevel   string
	logFormat  string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imposter",
	Short: "imposter is a scriptable mock server",
	Long: `imposter serves mock HTTP resources declared in route configuration files.

Each route is handled by a plugin: "rest" serves static files or script decisions,
"hbase" emulates the HBase REST scanner protocol over a fixture dataset.

Running imposter without a subcommand is the same as 'imposter serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the root command with the process arguments.
// This is called by main.main().
func Execute() {
	rootCmd.SetArgs(withDefaultCommand(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withDefaultCommand prepends "serve" when args name no subcommand.
func withDefaultCommand(args []string) []string {
	if len(args) == 0 {
		return []string{serveCmd.Name()}
	}
	first := args[0]
	switch first {
	case "-h", "--help", "help", "completion", "__complete":
		return args
	}
	if strings.HasPrefix(first, "-") {
		return append([]string{serveCmd.Name()}, args...)
	}
	return args
}

// newLogger builds the operational logger from the persistent flags.
func newLogger(w io.Writer) *slog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Format: logging.ParseFormat(logFormat),
		Output: w,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}

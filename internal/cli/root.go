// Package cli provides the chainweaver command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chainweaver/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

type configKey struct{}

// NewRootCmd creates the root command writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "chainweaver",
		Short: "Resolve and execute artifact transform chains",
		Long: `chainweaver finds the shortest chain of registered transforms that turns a
component's variant into the attributes a consumer requests, and executes the
chain with content-addressed caching.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return configError("loading configuration", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./chainweaver.yaml)")
	pf.String("transforms", "", "transforms file (default: transforms.yaml)")
	pf.String("variants", "", "variants model file (default: variants.yaml)")
	pf.String("cache-dir", "", "workspace cache directory")
	pf.Bool("no-cache", false, "do not reuse or persist cached results")
	pf.Int("workers", 0, "number of artifacts transformed in parallel")
	pf.Int("max-depth", 0, "maximum transform chain length")
	pf.String("history", "", "execution history database")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (text|json)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")
	pf.String("trace", "", "write the execution trace to this file")

	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newTransformCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// Run executes the CLI with args (excluding argv[0]) and returns the exit
// code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitSuccess
}

func configFrom(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "chainweaver v%s (%s)\n", Version, GitCommit)
		},
	}
}

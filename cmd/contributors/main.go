package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/contributors/internal/config"
	"github.com/rohankatakam/contributors/internal/errors"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

// errPartialRun is returned when the output was written but some fetches failed
var errPartialRun = stderrors.New("completed with failures")

func main() {
	err := rootCmd.Execute()
	if err != nil && !stderrors.Is(err, errPartialRun) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if stderrors.Is(err, errPartialRun) {
		return errors.ExitPartial
	}
	return errors.ExitCode(err)
}

var rootCmd = &cobra.Command{
	Use:   "contributors",
	Short: "Collect the contributors of every repository in a GitHub organization",
	Long: `contributors lists an organization's repositories, gathers the contributors
of each one, resolves their display names and writes the unique set to a
JSON file (../contributors.json next to the executable unless --output is given;
under "go run" the path is resolved against the working directory instead).

The GitHub token is read from the "token" or GITHUB_TOKEN environment variable,
the configuration file, or the OS keychain ('contributors token set').`,
	Version:       Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(verbose)

		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		return err
	},
	RunE: runAggregate,
}

func newLogger(debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .contributors/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	d := config.Default()
	flags := rootCmd.Flags()
	flags.String("org", d.Org, "GitHub organization to scan")
	flags.StringP("output", "o", d.Output, "output file (default: ../contributors.json next to the executable)")
	flags.String("format", d.Format, "output format: json or yaml")
	flags.Bool("allow-partial", d.AllowPartial, "write the file even if some repositories or profiles fail (exit code 3)")
	flags.String("base-url", d.GitHub.BaseURL, "GitHub API base URL")
	flags.Float64("rate-limit", d.GitHub.RateLimit, "maximum requests per second (0 disables pacing)")
	flags.Int("workers", d.Fetch.Workers, "concurrent requests (1 fetches strictly in sequence)")
	flags.Duration("request-timeout", d.Fetch.RequestTimeout, "timeout for a single request")
	flags.Duration("run-timeout", d.Fetch.RunTimeout, "deadline for the whole run")
	flags.Bool("paginate", d.Fetch.Paginate, "follow pagination links (false keeps only the first page)")
	flags.Int("per-page", d.Fetch.PerPage, "page size for list requests (max 100)")
	flags.Int("max-pages", d.Fetch.MaxPages, "maximum pages per list (0 for no limit)")
	flags.String("cache-file", d.Cache.Path, "bbolt file caching user profiles between runs (disabled when empty)")
	flags.Duration("cache-ttl", d.Cache.TTL, "maximum age of cached profiles")

	rootCmd.SetVersionTemplate(`contributors {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// no configuration is needed to print the version
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "contributors %s\n", Version)
		fmt.Fprintf(out, "Build time: %s\n", BuildTime)
		fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
	},
}

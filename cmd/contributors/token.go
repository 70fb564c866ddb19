package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rohankatakam/contributors/internal/config"
)

// tokenSettingsURL is where a new personal access token can be created
const tokenSettingsURL = "https://github.com/settings/tokens/new?description=contributors&scopes=read:org"

var openBrowser bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the GitHub token stored in the OS keychain",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a GitHub token in the OS keychain",
	Long: `Store a GitHub token in the OS keychain.

The token is read from the terminal without echo, or from stdin when piped:

  echo "$GITHUB_TOKEN" | contributors token set`,
	Args: cobra.NoArgs,
	RunE: runTokenSet,
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which token will be used and where it comes from",
	Args:  cobra.NoArgs,
	RunE:  runTokenStatus,
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the GitHub token from the OS keychain",
	Args:  cobra.NoArgs,
	RunE:  runTokenDelete,
}

func init() {
	tokenSetCmd.Flags().BoolVar(&openBrowser, "open-browser", false, "open the GitHub token settings page first")

	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	km := config.NewKeyringManager(logger)
	if !km.IsAvailable() {
		return fmt.Errorf("OS keychain is not available; export the token or GITHUB_TOKEN environment variable instead")
	}

	if openBrowser {
		if err := browser.OpenURL(tokenSettingsURL); err != nil {
			logger.WithError(err).Warn("Could not open browser")
			fmt.Fprintf(cmd.ErrOrStderr(), "Create a token at: %s\n", tokenSettingsURL)
		}
	}

	fd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(fd)
	if interactive {
		fmt.Fprint(cmd.ErrOrStderr(), "GitHub token: ")
	}

	token, err := readToken(cmd.InOrStdin(), func() ([]byte, error) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		return b, err
	}, interactive)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	if err := km.SetGitHubToken(token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Token %s saved to keychain\n", config.MaskToken(token))
	return nil
}

// readToken reads a token without echo on a terminal, or the first line of r otherwise
func readToken(r io.Reader, readPassword func() ([]byte, error), interactive bool) (string, error) {
	var token string
	if interactive {
		b, err := readPassword()
		if err != nil {
			return "", err
		}
		token = strings.TrimSpace(string(b))
	} else {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		token = strings.TrimSpace(line)
	}

	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func runTokenStatus(cmd *cobra.Command, args []string) error {
	cfg.ResolveKeychainToken(config.NewKeyringManager(logger))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Source: %s\n", cfg.TokenSource)
	fmt.Fprintf(out, "Token:  %s\n", config.MaskToken(cfg.GitHub.Token))
	if cfg.GitHub.Token == "" {
		fmt.Fprintln(out, "\nRun 'contributors token set' or export GITHUB_TOKEN")
	}
	return nil
}

func runTokenDelete(cmd *cobra.Command, args []string) error {
	if err := config.NewKeyringManager(logger).DeleteGitHubToken(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Token removed from keychain")
	return nil
}

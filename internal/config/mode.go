package config

import (
	"os"
	"strings"
)

// DeploymentMode represents the context the collector runs in
type DeploymentMode string

const (
	// ModeInteractive is a developer machine; the OS keychain may hold the token
	ModeInteractive DeploymentMode = "interactive"

	// ModeCI is a CI/CD pipeline
	// - credentials come from environment variables only
	// - the keychain is never consulted, so headless runners do not block on D-Bus
	ModeCI DeploymentMode = "ci"
)

// ciEnvVars are set by common CI providers
var ciEnvVars = []string{
	"CI",
	"CONTINUOUS_INTEGRATION",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"CIRCLECI",
	"TRAVIS",
	"JENKINS_URL",
	"BUILDKITE",
	"DRONE",
	"TF_BUILD", // Azure Pipelines
}

// DetectMode determines the run context from the environment.
// CONTRIBUTORS_MODE overrides detection.
func DetectMode() DeploymentMode {
	if mode := os.Getenv("CONTRIBUTORS_MODE"); mode != "" {
		switch strings.ToLower(mode) {
		case "ci", "cicd":
			return ModeCI
		case "interactive", "local", "dev":
			return ModeInteractive
		}
	}

	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return ModeCI
		}
	}
	return ModeInteractive
}

// UsesKeychain reports whether the OS keychain is a credential source in this mode
func (m DeploymentMode) UsesKeychain() bool {
	return m != ModeCI
}

// CredentialHint tells the user how to supply a token in this mode
func (m DeploymentMode) CredentialHint() string {
	if m == ModeCI {
		return "set the token or GITHUB_TOKEN environment variable"
	}
	return "set the token or GITHUB_TOKEN environment variable, or run 'contributors token set'"
}

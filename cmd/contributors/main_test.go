package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/contributors/internal/errors"
)

// fakeForge serves an organization with two repositories sharing a contributor
func fakeForge(t *testing.T, failLogin string) (*httptest.Server, func(login string) int) {
	t.Helper()
	var mu sync.Mutex
	userCalls := make(map[string]int)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token test-token", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `[
			{"name": "a", "contributors_url": "%[1]s/repos/acme/a/contributors"},
			{"name": "b", "contributors_url": "%[1]s/repos/acme/b/contributors"}
		]`, srv.URL)
	})
	mux.HandleFunc("/repos/acme/a/contributors", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 1, "login": "alice"}, {"id": 2, "login": "bob"}]`)
	})
	mux.HandleFunc("/repos/acme/b/contributors", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 2, "login": "bob"}, {"id": 3, "login": "carol"}]`)
	})
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		login := strings.TrimPrefix(r.URL.Path, "/users/")
		mu.Lock()
		userCalls[login]++
		mu.Unlock()
		if login == failLogin {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message": "boom"}`)
			return
		}
		if login == "alice" {
			fmt.Fprint(w, `{"id": 1, "login": "alice", "name": "Alice A."}`)
			return
		}
		fmt.Fprintf(w, `{"id": 0, "login": %q, "name": null}`, login)
	})

	return srv, func(login string) int {
		mu.Lock()
		defer mu.Unlock()
		return userCalls[login]
	}
}

func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"GITHUB_TOKEN", "CONTRIBUTORS_TOKEN", "CONTRIBUTORS_GITHUB_TOKEN"} {
		t.Setenv(key, "")
	}
	t.Setenv("token", "test-token")
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestRun_WritesContributors(t *testing.T) {
	dir := isolateEnv(t)
	srv, userCalls := fakeForge(t, "")
	out := filepath.Join(dir, "contributors.json")

	err := execute("--org", "acme", "--base-url", srv.URL, "--output", out, "--workers", "2", "--rate-limit", "0", "--allow-partial=false")

	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `[
  {
    "id": 1,
    "name": "Alice A.",
    "login": "alice"
  },
  {
    "id": 2,
    "name": "bob",
    "login": "bob"
  },
  {
    "id": 3,
    "name": "carol",
    "login": "carol"
  }
]`, string(data))
	assert.Equal(t, 1, userCalls("bob"))
}

func TestRun_FailureLeavesPreviousFileUntouched(t *testing.T) {
	dir := isolateEnv(t)
	srv, _ := fakeForge(t, "carol")
	out := filepath.Join(dir, "contributors.json")
	require.NoError(t, os.WriteFile(out, []byte("previous"), 0644))

	err := execute("--org", "acme", "--base-url", srv.URL, "--output", out, "--workers", "1", "--rate-limit", "0", "--allow-partial=false")

	require.Error(t, err)
	assert.Equal(t, errors.ExitFailure, exitCode(err))
	assert.Equal(t, 500, errors.StatusCode(err))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}

func TestRun_AllowPartialExitCode(t *testing.T) {
	dir := isolateEnv(t)
	srv, _ := fakeForge(t, "carol")
	out := filepath.Join(dir, "contributors.json")

	err := execute("--org", "acme", "--base-url", srv.URL, "--output", out, "--workers", "1", "--rate-limit", "0", "--allow-partial")

	require.Error(t, err)
	assert.Equal(t, errors.ExitPartial, exitCode(err))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"login": "carol"`)
}

func TestRun_MissingCredentialFailsFast(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("token", "")
	t.Setenv("CONTRIBUTORS_MODE", "ci")
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { atomic.AddInt32(&requests, 1) }))
	defer srv.Close()

	err := execute("--org", "acme", "--base-url", srv.URL, "--output", filepath.Join(dir, "out.json"), "--allow-partial=false")

	require.Error(t, err)
	assert.Equal(t, errors.ExitConfig, exitCode(err))
	assert.Equal(t, errors.ErrorTypeMissingCredential, errors.GetType(err))
	assert.Zero(t, atomic.LoadInt32(&requests))
	assert.NoFileExists(t, filepath.Join(dir, "out.json"))
}

func TestVersionCommand(t *testing.T) {
	var out strings.Builder
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	require.NoError(t, execute("version"))
	assert.Contains(t, out.String(), "contributors "+Version)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, errors.ExitOK, exitCode(nil))
	assert.Equal(t, errors.ExitPartial, exitCode(errPartialRun))
	assert.Equal(t, errors.ExitConfig, exitCode(errors.ConfigError("bad")))
}

func TestReadToken(t *testing.T) {
	token, err := readToken(strings.NewReader("  ghp_piped \nignored\n"), nil, false)
	require.NoError(t, err)
	assert.Equal(t, "ghp_piped", token)

	token, err = readToken(nil, func() ([]byte, error) { return []byte("ghp_typed"), nil }, true)
	require.NoError(t, err)
	assert.Equal(t, "ghp_typed", token)

	_, err = readToken(strings.NewReader("\n"), nil, false)
	assert.Error(t, err)
}

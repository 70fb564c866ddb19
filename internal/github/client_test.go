package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/contributors/internal/errors"
)

const testToken = "test-token"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, srv *httptest.Server, paginate bool) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL:        srv.URL,
		Token:          testToken,
		RequestTimeout: 2 * time.Second,
		Paginate:       paginate,
	}, quietLogger())
	require.NoError(t, err)
	return client
}

func requireToken(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token "+testToken, r.Header.Get("Authorization"))
		next(w, r)
	}
}

func TestListOrgRepos(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/orgs/acme/repos", requireToken(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		fmt.Fprintf(w, `[
			{"name": "a", "contributors_url": "%[1]s/repos/acme/a/contributors"},
			{"name": "b", "contributors_url": "%[1]s/repos/acme/b/contributors", "private": false}
		]`, srv.URL)
	}))

	client := newTestClient(t, srv, true)
	repos, err := client.ListOrgRepos(context.Background(), "acme")

	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "a", repos[0].Name)
	assert.Equal(t, srv.URL+"/repos/acme/a/contributors", repos[0].ContributorsURL)
	assert.Equal(t, "b", repos[1].Name)
}

func TestListOrgRepos_MissingContributorsURLFallsBack(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name": "solo"}]`)
	})

	repos, err := newTestClient(t, srv, true).ListOrgRepos(context.Background(), "acme")

	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "repos/acme/solo/contributors", repos[0].ContributorsURL)
}

func TestListContributors_Pagination(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var calls atomic.Int32
	mux.HandleFunc("/repos/acme/a/contributors", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/a/contributors?per_page=100&page=2>; rel="next"`, srv.URL))
			fmt.Fprint(w, `[{"id": 1, "login": "alice"}, {"id": 2, "login": "bob"}]`)
		case "2":
			fmt.Fprint(w, `[{"id": 3, "login": "carol"}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	t.Run("enabled follows next links", func(t *testing.T) {
		calls.Store(0)
		refs, err := newTestClient(t, srv, true).ListContributors(context.Background(), srv.URL+"/repos/acme/a/contributors")

		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		require.Len(t, refs, 3)
		assert.Equal(t, "carol", refs[2].Login)
		assert.Equal(t, int64(3), refs[2].ID)
	})

	t.Run("disabled keeps first page only", func(t *testing.T) {
		calls.Store(0)
		refs, err := newTestClient(t, srv, false).ListContributors(context.Background(), srv.URL+"/repos/acme/a/contributors")

		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
		assert.Len(t, refs, 2)
	})

	t.Run("max pages caps the walk", func(t *testing.T) {
		calls.Store(0)
		client, err := NewClient(Options{BaseURL: srv.URL, Token: testToken, Paginate: true, MaxPages: 1}, quietLogger())
		require.NoError(t, err)

		refs, err := client.ListContributors(context.Background(), srv.URL+"/repos/acme/a/contributors")

		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
		assert.Len(t, refs, 2)
	})
}

func TestListContributors_EmptyRepository(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/repos/acme/empty/contributors", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	refs, err := newTestClient(t, srv, true).ListContributors(context.Background(), srv.URL+"/repos/acme/empty/contributors")

	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestGetUser(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/users/alice", requireToken(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 1, "login": "alice", "name": "Alice A."}`)
	}))
	mux.HandleFunc("/users/nobody", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 2, "login": "nobody", "name": null}`)
	})

	client := newTestClient(t, srv, true)

	alice, err := client.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, alice.Name)
	assert.Equal(t, "Alice A.", *alice.Name)
	assert.Equal(t, int64(1), alice.ID)

	nobody, err := client.GetUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, nobody.Name)
	assert.Equal(t, "nobody", nobody.DisplayName("nobody"))
}

func TestFetchErrors(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/users/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	mux.HandleFunc("/users/unauthorized", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	})
	mux.HandleFunc("/users/garbled", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	})
	mux.HandleFunc("/users/truncated", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 1, "login": "trun`)
	})
	mux.HandleFunc("/users/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	client, err := NewClient(Options{
		BaseURL:        srv.URL,
		Token:          testToken,
		RequestTimeout: 100 * time.Millisecond,
	}, quietLogger())
	require.NoError(t, err)

	tests := []struct {
		login  string
		kind   errors.ErrorType
		status int
	}{
		{"missing", errors.ErrorTypeHTTPStatus, http.StatusNotFound},
		{"unauthorized", errors.ErrorTypeHTTPStatus, http.StatusUnauthorized},
		{"garbled", errors.ErrorTypeParse, 0},
		{"truncated", errors.ErrorTypeParse, 0},
		{"slow", errors.ErrorTypeTimeout, 0},
	}

	for _, tt := range tests {
		t.Run(tt.login, func(t *testing.T) {
			_, err := client.GetUser(context.Background(), tt.login)

			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.GetType(err), err.Error())
			assert.Equal(t, tt.status, errors.StatusCode(err))
		})
	}
}

func TestFetchErrors_RequestVersusRunTimeout(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/users/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	client, err := NewClient(Options{BaseURL: srv.URL, Token: testToken, RequestTimeout: time.Minute}, quietLogger())
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.GetUser(runCtx, "slow")

	require.Error(t, err)
	assert.Equal(t, errors.ExitRunDeadline, errors.ExitCode(err))
}

func TestFetchErrors_CancelledIsNotLoggedAsFailure(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	client, err := NewClient(Options{BaseURL: srv.URL, Token: testToken}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.GetUser(ctx, "alice")

	require.Error(t, err)
	assert.Zero(t, requests.Load())
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, entry.Level, entry.Message)
	}
}

func TestFetchErrors_Transport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := NewClient(Options{BaseURL: baseURL, Token: testToken}, quietLogger())
	require.NoError(t, err)

	_, err = client.ListOrgRepos(context.Background(), "acme")

	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeTransport, errors.GetType(err))
}

func TestWithPaging(t *testing.T) {
	got, err := withPaging("https://api.github.com/repos/o/r/contributors?anon=0", 50, 3)
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/repos/o/r/contributors?anon=0&page=3&per_page=50", got)

	got, err = withPaging("orgs/o/repos", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, "orgs/o/repos?per_page=100", got)
}

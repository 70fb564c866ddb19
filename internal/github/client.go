package github

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/contributors/internal/errors"
	"github.com/rohankatakam/contributors/internal/models"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint
	DefaultBaseURL = "https://api.github.com/"
	// DefaultPerPage is the page size requested from list endpoints
	DefaultPerPage = 100
	// lowRateLimitThreshold triggers a warning when remaining quota drops below it
	lowRateLimitThreshold = 100
)

// Options configures a Client
type Options struct {
	BaseURL        string
	Token          string
	RateLimit      float64 // requests per second, <= 0 disables pacing
	RequestTimeout time.Duration
	Paginate       bool
	PerPage        int
	MaxPages       int // 0 means unlimited
	HTTPClient     *http.Client
}

// Client fetches organization repositories, contributor lists and user profiles.
// All requests share one rate limiter and carry the "token" authorization scheme.
type Client struct {
	client         *github.Client
	rateLimiter    *rate.Limiter
	requestTimeout time.Duration
	paginate       bool
	perPage        int
	maxPages       int
	logger         *logrus.Entry
}

// tokenTransport sets "Authorization: token <credential>" on every request
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if t.token != "" {
		r.Header.Set("Authorization", "token "+t.token)
	}
	r.Header.Set("Accept", "application/vnd.github+json")
	return t.base.RoundTrip(r)
}

// NewClient creates a GitHub client with rate limiting
func NewClient(opts Options, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.ConfigErrorf("invalid base URL %q: %v", opts.BaseURL, err)
	}

	httpClient := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		httpClient = &c
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient.Transport = &tokenTransport{token: opts.Token, base: base}

	client := github.NewClient(httpClient)
	client.BaseURL = parsed

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	return &Client{
		client:         client,
		rateLimiter:    rate.NewLimiter(limit, 1),
		requestTimeout: opts.RequestTimeout,
		paginate:       opts.Paginate,
		perPage:        perPage,
		maxPages:       opts.MaxPages,
		logger:         logger.WithField("component", "github"),
	}, nil
}

// ListOrgRepos lists the organization's repositories in API order
func (c *Client) ListOrgRepos(ctx context.Context, org string) ([]models.Repository, error) {
	var repos []models.Repository
	listURL := fmt.Sprintf("orgs/%s/repos", url.PathEscape(org))

	err := c.listAll(ctx, listURL, func(ctx context.Context, pageURL string) (*github.Response, error) {
		var page []*github.Repository
		resp, err := c.fetchJSON(ctx, pageURL, &page)
		if err != nil {
			return resp, err
		}
		for _, repo := range page {
			if repo == nil {
				continue
			}
			contributorsURL := repo.GetContributorsURL()
			if contributorsURL == "" {
				contributorsURL = fmt.Sprintf("repos/%s/%s/contributors", url.PathEscape(org), url.PathEscape(repo.GetName()))
			}
			repos = append(repos, models.Repository{
				Name:            repo.GetName(),
				ContributorsURL: contributorsURL,
			})
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return repos, nil
}

// ListContributors fetches the contributor list at a repository's contributors_url.
// Empty repositories answer 204 and yield an empty list.
func (c *Client) ListContributors(ctx context.Context, contributorsURL string) ([]models.ContributorRef, error) {
	var refs []models.ContributorRef

	err := c.listAll(ctx, contributorsURL, func(ctx context.Context, pageURL string) (*github.Response, error) {
		var page []*github.Contributor
		resp, err := c.fetchJSON(ctx, pageURL, &page)
		if err != nil {
			return resp, err
		}
		for _, contributor := range page {
			if contributor.GetLogin() == "" {
				c.logger.WithField("url", pageURL).Debug("Skipping contributor without login")
				continue
			}
			refs = append(refs, models.ContributorRef{
				ID:    contributor.GetID(),
				Login: contributor.GetLogin(),
			})
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

// GetUser fetches a user's public profile
func (c *Client) GetUser(ctx context.Context, login string) (*models.UserProfile, error) {
	var user github.User
	if _, err := c.fetchJSON(ctx, "users/"+url.PathEscape(login), &user); err != nil {
		return nil, err
	}

	profileLogin := user.GetLogin()
	if profileLogin == "" {
		profileLogin = login
	}

	return &models.UserProfile{
		ID:    user.GetID(),
		Login: profileLogin,
		Name:  user.Name,
	}, nil
}

// listAll requests rawURL and, when pagination is enabled, every following page.
func (c *Client) listAll(ctx context.Context, rawURL string, page func(ctx context.Context, pageURL string) (*github.Response, error)) error {
	pageURL, err := withPaging(rawURL, c.perPage, 0)
	if err != nil {
		return errors.ParseError(err, rawURL)
	}

	for n := 1; ; n++ {
		resp, err := page(ctx, pageURL)
		if err != nil {
			return err
		}
		if resp == nil || resp.NextPage == 0 {
			return nil
		}

		if !c.paginate {
			c.logger.WithField("url", rawURL).Warn("More pages available but pagination is disabled; results truncated")
			return nil
		}
		if c.maxPages > 0 && n >= c.maxPages {
			c.logger.WithFields(logrus.Fields{"url": rawURL, "max_pages": c.maxPages}).Warn("Page limit reached; results truncated")
			return nil
		}

		pageURL, err = withPaging(rawURL, c.perPage, resp.NextPage)
		if err != nil {
			return errors.ParseError(err, rawURL)
		}
	}
}

// fetchJSON issues one paced, time-limited GET and decodes the body into v
func (c *Client) fetchJSON(ctx context.Context, rawURL string, v interface{}) (*github.Response, error) {
	c.logger.WithField("url", rawURL).Debug("Fetching")

	if err := c.rateLimiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// the next token would only arrive after the run deadline
			err = errors.TimeoutError(err, errors.ScopeRun)
		}
		return nil, c.fail(ctx, err, rawURL)
	}

	reqCtx := ctx
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req, err := c.client.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, c.fail(ctx, errors.Wrap(err, errors.ErrorTypeConfig, "build request"), rawURL)
	}

	resp, err := c.client.Do(reqCtx, req, v)
	if err != nil {
		return resp, c.fail(ctx, err, rawURL)
	}

	c.logRateLimit(resp)
	return resp, nil
}

// fail classifies err, logs it at the call site and returns the typed error
func (c *Client) fail(runCtx context.Context, err error, rawURL string) error {
	classified := classify(runCtx, err, rawURL)
	if stderrors.Is(err, context.Canceled) {
		// another fetch already failed, or the run was interrupted
		c.logger.WithField("url", rawURL).Debug("Fetch cancelled")
		return classified
	}
	c.logger.WithError(classified).WithField("url", rawURL).Error("Error fetching data")
	return classified
}

func classify(runCtx context.Context, err error, rawURL string) error {
	if _, ok := errors.As(err); ok {
		return err
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		if runCtx.Err() != nil {
			return errors.TimeoutError(err, errors.ScopeRun)
		}
		return errors.TimeoutError(err, errors.ScopeRequest)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeInternal, "run cancelled")
	}

	var rateErr *github.RateLimitError
	if stderrors.As(err, &rateErr) {
		return errors.HTTPStatusError(statusOf(rateErr.Response, http.StatusForbidden), rawURL, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &abuseErr) {
		return errors.HTTPStatusError(statusOf(abuseErr.Response, http.StatusForbidden), rawURL, err)
	}
	var acceptedErr *github.AcceptedError
	if stderrors.As(err, &acceptedErr) {
		return errors.HTTPStatusError(http.StatusAccepted, rawURL, err)
	}
	var respErr *github.ErrorResponse
	if stderrors.As(err, &respErr) {
		return errors.HTTPStatusError(statusOf(respErr.Response, 0), rawURL, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.ParseError(err, rawURL)
	}

	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return errors.TimeoutError(err, errors.ScopeRequest)
		}
		return errors.TransportError(err, rawURL)
	}

	return errors.TransportError(err, rawURL)
}

func statusOf(resp *http.Response, fallback int) int {
	if resp == nil {
		return fallback
	}
	return resp.StatusCode
}

// withPaging sets per_page and, when page > 0, page on rawURL's query
func withPaging(rawURL string, perPage, page int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("per_page", strconv.Itoa(perPage))
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// logRateLimit logs GitHub API rate limit info
func (c *Client) logRateLimit(resp *github.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}

	if resp.Rate.Remaining < lowRateLimitThreshold {
		c.logger.WithFields(logrus.Fields{
			"remaining": resp.Rate.Remaining,
			"limit":     resp.Rate.Limit,
		}).Warn("Rate limit low")
	}
}

package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/contributors/internal/models"
)

// DefaultWorkers bounds concurrent fetches when no worker count is configured
const DefaultWorkers = 4

// Source is the forge API the aggregator reads from
type Source interface {
	ListOrgRepos(ctx context.Context, org string) ([]models.Repository, error)
	ListContributors(ctx context.Context, contributorsURL string) ([]models.ContributorRef, error)
	GetUser(ctx context.Context, login string) (*models.UserProfile, error)
}

// ProfileCache is an optional store of previously fetched profiles
type ProfileCache interface {
	Get(login string) (*models.UserProfile, bool)
	Put(profile *models.UserProfile) error
}

// Options configures an Aggregator
type Options struct {
	Org          string
	Workers      int
	AllowPartial bool
	Cache        ProfileCache
}

// Stats summarizes a run
type Stats struct {
	Repositories    int
	ContributorRefs int
	Unique          int
	ProfilesFetched int
	CacheHits       int
	FailedRepos     []string
	FailedProfiles  []string
	Duration        time.Duration
}

// Partial reports whether any fetch failed and was tolerated
func (s *Stats) Partial() bool {
	return len(s.FailedRepos) > 0 || len(s.FailedProfiles) > 0
}

// Aggregator collects the unique contributors of an organization
type Aggregator struct {
	source  Source
	opts    Options
	logger  *logrus.Entry
	statsMu sync.Mutex
}

// New creates an aggregator reading from source
func New(source Source, opts Options, logger *logrus.Entry) *Aggregator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Aggregator{
		source: source,
		opts:   opts,
		logger: logger.WithField("org", opts.Org),
	}
}

// Run lists the organization's repositories, the contributors of each, and the
// profile of every distinct login, and returns one record per login in
// first-seen order. Fetches run concurrently but the result never depends on
// completion order. Unless AllowPartial is set, the first failure aborts the run.
func (a *Aggregator) Run(ctx context.Context) ([]models.AggregatedContributor, *Stats, error) {
	start := time.Now()
	stats := &Stats{}

	a.logger.Info("Fetching organization repositories...")
	repos, err := a.source.ListOrgRepos(ctx, a.opts.Org)
	if err != nil {
		return nil, stats, err
	}
	stats.Repositories = len(repos)

	lists, err := a.fetchContributorLists(ctx, repos, stats)
	if err != nil {
		return nil, stats, err
	}

	unique := firstSeen(lists)
	for _, list := range lists {
		stats.ContributorRefs += len(list)
	}
	stats.Unique = len(unique)

	profiles, err := a.resolveProfiles(ctx, unique, stats)
	if err != nil {
		return nil, stats, err
	}

	records := make([]models.AggregatedContributor, len(unique))
	for i, ref := range unique {
		records[i] = models.AggregatedContributor{
			ID:    ref.ID,
			Name:  profiles[i].DisplayName(ref.Login),
			Login: ref.Login,
		}
	}

	stats.Duration = time.Since(start)
	return records, stats, nil
}

// fetchContributorLists fetches every repository's list; lists[i] belongs to repos[i]
func (a *Aggregator) fetchContributorLists(ctx context.Context, repos []models.Repository, stats *Stats) ([][]models.ContributorRef, error) {
	lists := make([][]models.ContributorRef, len(repos))
	failed := make([]bool, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for i, repo := range repos {
		if gctx.Err() != nil {
			break
		}
		i, repo := i, repo
		g.Go(func() error {
			// a slot can free up only after an earlier fetch failed and cancelled the group
			if err := gctx.Err(); err != nil {
				return err
			}
			a.logger.WithField("repo", repo.Name).Infof("Getting data for repository %s...", repo.Name)
			refs, err := a.source.ListContributors(gctx, repo.ContributorsURL)
			if err != nil {
				if !a.opts.AllowPartial || gctx.Err() != nil {
					return err
				}
				a.logger.WithError(err).WithField("repo", repo.Name).Warn("Skipping repository")
				failed[i] = true
				return nil
			}
			lists[i] = refs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, f := range failed {
		if f {
			stats.FailedRepos = append(stats.FailedRepos, repos[i].Name)
		}
	}
	return lists, nil
}

// resolveProfiles fetches one profile per unique login; profiles[i] belongs to unique[i].
// A nil entry means the name falls back to the login.
func (a *Aggregator) resolveProfiles(ctx context.Context, unique []models.ContributorRef, stats *Stats) ([]*models.UserProfile, error) {
	profiles := make([]*models.UserProfile, len(unique))
	failed := make([]bool, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for i, ref := range unique {
		if gctx.Err() != nil {
			break
		}
		i, ref := i, ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if a.opts.Cache != nil {
				if profile, ok := a.opts.Cache.Get(ref.Login); ok {
					profiles[i] = profile
					a.countCacheHit(stats)
					return nil
				}
			}

			a.logger.WithField("login", ref.Login).Infof("Getting data for the contributor %s", ref.Login)
			profile, err := a.source.GetUser(gctx, ref.Login)
			if err != nil {
				if !a.opts.AllowPartial || gctx.Err() != nil {
					return err
				}
				a.logger.WithError(err).WithField("login", ref.Login).Warn("Using login as display name")
				failed[i] = true
				return nil
			}
			profiles[i] = profile
			a.countFetch(stats)

			if a.opts.Cache != nil {
				if err := a.opts.Cache.Put(profile); err != nil {
					a.logger.WithError(err).WithField("login", ref.Login).Warn("Failed to cache profile")
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, f := range failed {
		if f {
			stats.FailedProfiles = append(stats.FailedProfiles, unique[i].Login)
		}
	}
	return profiles, nil
}

func (a *Aggregator) countFetch(stats *Stats) {
	a.statsMu.Lock()
	stats.ProfilesFetched++
	a.statsMu.Unlock()
}

func (a *Aggregator) countCacheHit(stats *Stats) {
	a.statsMu.Lock()
	stats.CacheHits++
	a.statsMu.Unlock()
}

// firstSeen walks lists in order and keeps the first occurrence of each login
func firstSeen(lists [][]models.ContributorRef) []models.ContributorRef {
	seen := make(map[string]struct{})
	var unique []models.ContributorRef

	for _, list := range lists {
		for _, ref := range list {
			if _, ok := seen[ref.Login]; ok {
				continue
			}
			seen[ref.Login] = struct{}{}
			unique = append(unique, ref)
		}
	}
	return unique
}

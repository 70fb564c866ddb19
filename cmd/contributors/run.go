package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/contributors/internal/aggregator"
	"github.com/rohankatakam/contributors/internal/cache"
	"github.com/rohankatakam/contributors/internal/config"
	"github.com/rohankatakam/contributors/internal/github"
	"github.com/rohankatakam/contributors/internal/output"
)

func runAggregate(cmd *cobra.Command, args []string) error {
	log := logger.WithFields(logrus.Fields{
		"run_id": uuid.New().String(),
		"org":    cfg.Org,
	})

	cfg.ResolveKeychainToken(config.NewKeyringManager(logger))
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.WithField("token_source", cfg.TokenSource).Debug("Resolved credential")

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	outPath := cfg.Output
	if outPath == "" {
		if outPath, err = output.DefaultPath(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Fetch.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Fetch.RunTimeout)
		defer cancel()
	}

	client, err := github.NewClient(github.Options{
		BaseURL:        cfg.GitHub.BaseURL,
		Token:          cfg.GitHub.Token,
		RateLimit:      cfg.GitHub.RateLimit,
		RequestTimeout: cfg.Fetch.RequestTimeout,
		Paginate:       cfg.Fetch.Paginate,
		PerPage:        cfg.Fetch.PerPage,
		MaxPages:       cfg.Fetch.MaxPages,
	}, logger)
	if err != nil {
		return err
	}

	opts := aggregator.Options{
		Org:          cfg.Org,
		Workers:      cfg.Fetch.Workers,
		AllowPartial: cfg.AllowPartial,
	}
	if cfg.Cache.Path != "" {
		profiles, err := cache.Open(cfg.Cache.Path, cfg.Cache.TTL, logger)
		if err != nil {
			log.WithError(err).Warn("Profile cache disabled")
		} else {
			defer profiles.Close()
			opts.Cache = profiles
		}
	}

	records, stats, err := aggregator.New(client, opts, log).Run(ctx)
	if err != nil {
		log.WithError(err).Error("Error fetching contributors")
		return err
	}

	log.Info("Writing contributors data to file...")
	if err := output.Write(outPath, records, format); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"repositories":     stats.Repositories,
		"contributors":     stats.Unique,
		"profiles_fetched": stats.ProfilesFetched,
		"cache_hits":       stats.CacheHits,
		"duration":         stats.Duration.Round(time.Millisecond).String(),
	}).Infof("Completed successfully! Check %s", outPath)

	if stats.Partial() {
		log.WithFields(logrus.Fields{
			"failed_repos":    stats.FailedRepos,
			"failed_profiles": stats.FailedProfiles,
		}).Warn("Some fetches failed; output is partial")
		return errPartialRun
	}
	return nil
}

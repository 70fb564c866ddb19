package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/contributors/internal/errors"
	"github.com/rohankatakam/contributors/internal/models"
)

const bucketName = "user_profiles"

// entry is the stored form of a cached profile
type entry struct {
	Profile   models.UserProfile `json:"profile"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// ProfileCache keeps user profiles on disk between runs so repeat runs can skip
// the per-user fetch. Entries older than the TTL are ignored.
type ProfileCache struct {
	db     *bolt.DB
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Entry
}

// Open opens (or creates) the cache file at path
func Open(path string, ttl time.Duration, logger *logrus.Logger) (*ProfileCache, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.FileSystemErrorf(err, "create cache directory for %s", path)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "open profile cache %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.FileSystemErrorf(err, "initialize profile cache %s", path)
	}

	return &ProfileCache{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.WithField("component", "cache"),
	}, nil
}

// Get returns the cached profile for login if present and fresh
func (c *ProfileCache) Get(login string) (*models.UserProfile, bool) {
	var e entry
	found := false

	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(login))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("login", login).Warn("Ignoring unreadable cache entry")
		return nil, false
	}
	if !found {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.FetchedAt) > c.ttl {
		return nil, false
	}

	profile := e.Profile
	return &profile, true
}

// Put stores profile keyed by its login
func (c *ProfileCache) Put(profile *models.UserProfile) error {
	if profile == nil || profile.Login == "" {
		return errors.InternalErrorf("cannot cache profile without login")
	}

	data, err := json.Marshal(entry{Profile: *profile, FetchedAt: c.now()})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(profile.Login), data)
	})
	if err != nil {
		return errors.FileSystemErrorf(err, "write cache entry for %s", profile.Login)
	}
	return nil
}

// Close closes the underlying database
func (c *ProfileCache) Close() error {
	return c.db.Close()
}

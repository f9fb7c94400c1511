package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(newViper())
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "crawl_tasks", cfg.Store.Firestore.Collection)
	require.Equal(t, "MarketSenseBot/1.0", cfg.Crawler.UserAgent)
	require.True(t, cfg.Crawler.RobotsEnabled)
	require.Equal(t, 2*time.Second, cfg.Throttle.DelayBase)
	require.Equal(t, 30*time.Second, cfg.Throttle.DelayMax)
	require.Equal(t, 50, cfg.Worker.BatchLimit)
	require.Equal(t, 10*time.Minute, cfg.Worker.Lease)
	require.Equal(t, 5, cfg.Maintenance.MaxAttempts)
	require.Equal(t, "data/raw_html", cfg.Storage.LocalRawDir)
	require.Equal(t, ":8080", cfg.API.Addr)
}

func TestLoadSplitsDomainLists(t *testing.T) {
	t.Parallel()
	v := newViper()
	v.Set("crawler.allow_domains", "example.com, *.shop.example ,")
	v.Set("crawler.deny_domains", "bad.example")

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, []string{"example.com", "*.shop.example"}, cfg.Crawler.AllowDomains)
	require.Equal(t, []string{"bad.example"}, cfg.Crawler.DenyDomains)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	t.Parallel()
	v := newViper()
	v.Set("store.backend", "dynamo")
	_, err := Load(v)
	require.ErrorContains(t, err, "store.backend")
}

func TestValidateRequiresBackendSettings(t *testing.T) {
	t.Parallel()

	v := newViper()
	v.Set("store.backend", "firestore")
	_, err := Load(v)
	require.ErrorContains(t, err, "store.firestore.project")

	v = newViper()
	v.Set("store.backend", "postgres")
	_, err = Load(v)
	require.ErrorContains(t, err, "store.postgres.dsn")

	v = newViper()
	v.Set("store.backend", "postgres")
	v.Set("store.postgres.dsn", "postgres://localhost/marketsense")
	_, err = Load(v)
	require.NoError(t, err)
}

func TestValidateThrottleBounds(t *testing.T) {
	t.Parallel()
	v := newViper()
	v.Set("throttle.delay_base", "10s")
	v.Set("throttle.delay_max", "2s")
	_, err := Load(v)
	require.ErrorContains(t, err, "throttle.delay_max")
}

func TestValidateRequiresArchiveDestination(t *testing.T) {
	t.Parallel()
	v := newViper()
	v.Set("storage.local_raw_dir", "")
	_, err := Load(v)
	require.ErrorContains(t, err, "storage.local_raw_dir")

	v = newViper()
	v.Set("storage.local_raw_dir", "")
	v.Set("storage.gcs_bucket", "marketsense-raw")
	_, err = Load(v)
	require.NoError(t, err)

	v = newViper()
	v.Set("storage.local_raw_dir", "")
	v.Set("storage.gcs_bucket", "marketsense-raw")
	v.Set("storage.local_store_only", true)
	_, err = Load(v)
	require.ErrorContains(t, err, "local_store_only")
}

package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/config"
	pubmemory "github.com/JakeFAU/genealogy-crawler/internal/publisher/memory"
	"github.com/JakeFAU/genealogy-crawler/internal/storage/local"
	memstore "github.com/JakeFAU/genealogy-crawler/internal/storage/memory"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Output.Dir = t.TempDir()
	return cfg
}

func TestNewWithoutOptionalServices(t *testing.T) {
	cfg := baseConfig(t)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.BlobStore())
	assert.Nil(t, a.Publisher())
	assert.Nil(t, a.GraphDB())
	assert.Nil(t, a.RunReader(), "no DSN means no run history")
	assert.Equal(t, cfg.Output.Dir, a.Config().Output.Dir)
}

func TestNewBuildsConfiguredArchive(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Archive.Provider = config.ArchiveLocal
	cfg.Archive.BaseDir = t.TempDir()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &local.BlobStore{}, a.BlobStore())

	cfg.Archive.Provider = config.ArchiveMemory
	a, err = New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &memstore.BlobStore{}, a.BlobStore())
}

func TestNewOptionsOverrideConfig(t *testing.T) {
	cfg := baseConfig(t)
	// A topic would normally dial Pub/Sub; the injected publisher wins.
	cfg.PubSub.ProjectID = "proj"
	cfg.PubSub.TopicName = "runs"
	cfg.Archive.Provider = config.ArchiveGCS
	cfg.Archive.GCSBucket = "bucket"

	blobs := memstore.NewBlobStore()
	pub := pubmemory.New()
	a, err := New(context.Background(), cfg, nil, WithBlobStore(blobs), WithPublisher(pub))
	require.NoError(t, err)
	defer a.Close()

	assert.Same(t, blobs, a.BlobStore())
	assert.Same(t, pub, a.Publisher())
	assert.NotNil(t, a.Logger())
}

func TestNewFailsFastOnBadDSN(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DB.DSN = "://not-a-dsn"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "init database")
}

func TestNewFetcherUsesSourceTemplate(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Source.URLTemplate = "http://localhost/id.php?id=%d"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "http://localhost/id.php?id=42", a.NewFetcher().URL(42))
	assert.NotNil(t, a.NewParser())
}

func TestNewProgressHub(t *testing.T) {
	cfg := baseConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	reg := prometheus.NewRegistry()
	hub, err := a.NewProgressHub(reg)
	require.NoError(t, err)
	require.NoError(t, hub.Close(context.Background()))

	// The collectors are already registered on reg.
	_, err = a.NewProgressHub(reg)
	require.Error(t, err)
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gabriel/chapter-tracker/internal/config"
	"github.com/gabriel/chapter-tracker/internal/notifications"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/stretchr/testify/require"
)

const yamlSource = `
key: examplescans
name: Example Scans
base_url: https://scans.example.com
check_interval: 2h
feed:
  path: /api/chapters
response:
  items_path: data
  id_field: id
  title_field: title
`

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	connectorsDir := filepath.Join(dir, "connectors")
	require.NoError(t, os.MkdirAll(connectorsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(connectorsDir, "examplescans.yaml"), []byte(yamlSource), 0o644))

	return config.Config{
		Environment:        "test",
		AppName:            "test",
		SQLitePath:         filepath.Join(dir, "app.sqlite"),
		SeedDefaultData:    true,
		YAMLConnectorsPath: connectorsDir,
		FallbackWake:       time.Hour,
	}
}

func TestBuildSeedsNativeAndYAMLSources(t *testing.T) {
	a, err := Build(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	services := repository.NewServiceRepository(a.DB)
	for _, key := range []string{"mangadex", "mangaplus", "asuracomic", "webtoons", "mgeko", "flamecomics", "mangafire", "examplescans"} {
		service, err := services.GetByKey(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, service, "service %s", key)
	}

	yamlService, err := services.GetByKey(ctx, "examplescans")
	require.NoError(t, err)
	whole, err := services.GetWhole(ctx, yamlService.ID)
	require.NoError(t, err)
	require.NotNil(t, whole)
	require.Equal(t, "https://scans.example.com/api/chapters", whole.FeedURL)

	_, ok := a.Registry.ServiceScraper("examplescans")
	require.True(t, ok)
	require.IsType(t, notifications.NoopNotifier{}, a.Notifier)
	require.NotNil(t, a.Driver)
}

func TestBuildCombinesNotifiers(t *testing.T) {
	cfg := testConfig(t)
	cfg.NotifyWebhookURL = "https://hooks.example.com/releases"

	a, err := Build(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.IsType(t, &notifications.WebhookNotifier{}, a.Notifier)
}

func TestDriverConfigMapsSchedulerSettings(t *testing.T) {
	cfg := config.Config{
		ScrapeParallelism:  4,
		PolitenessMinDelay: time.Second,
		PolitenessMaxDelay: 2 * time.Second,
		TitleBatchMin:      2,
		TitleBatchMax:      5,
		MaintenanceCron:    "@hourly",
	}
	got := DriverConfig(cfg)
	require.Equal(t, 4, got.Parallelism)
	require.Equal(t, 5, got.BatchMax)
	require.Equal(t, "@hourly", got.MaintenanceCron)
}

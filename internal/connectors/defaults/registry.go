package defaults

import (
	"fmt"

	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/connectors/native/asuracomic"
	"github.com/gabriel/chapter-tracker/internal/connectors/native/flamecomics"
	"github.com/gabriel/chapter-tracker/internal/connectors/native/mangadex"
	"github.com/gabriel/chapter-tracker/internal/connectors/native/mangafire"
	"github.com/gabriel/chapter-tracker/internal/connectors/native/mangaplus"
	"github.com/gabriel/chapter-tracker/internal/connectors/native/mgeko"
	"github.com/gabriel/chapter-tracker/internal/connectors/native/webtoons"
	"github.com/gabriel/chapter-tracker/internal/connectors/yamlconnector"
	"github.com/gabriel/chapter-tracker/internal/database"
)

// NewRegistry registers the native connectors and the YAML ones found in
// yamlConnectorsPath. The returned seeds are the services rows the YAML
// connectors need; native sources are covered by database.SeedDefaults.
func NewRegistry(yamlConnectorsPath string) (*connectors.Registry, []database.ServiceSeed, error) {
	registry := connectors.NewRegistry()
	_ = registry.Register(mangadex.NewConnector())
	_ = registry.Register(mangaplus.NewConnector())
	_ = registry.Register(asuracomic.NewConnector())
	_ = registry.Register(webtoons.NewConnector())
	_ = registry.Register(mgeko.NewConnector())
	_ = registry.Register(flamecomics.NewConnector())
	_ = registry.Register(mangafire.NewConnector())

	loaded, loadErr := yamlconnector.LoadFromDir(yamlConnectorsPath, nil)
	seeds := make([]database.ServiceSeed, 0, len(loaded))
	for _, connector := range loaded {
		if err := registry.Register(connector); err != nil {
			if loadErr == nil {
				loadErr = fmt.Errorf("register yaml connector %q: %w", connector.Key(), err)
			}
			continue
		}
		seeds = append(seeds, connector.Seed())
	}

	return registry, seeds, loadErr
}

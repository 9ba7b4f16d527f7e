package connectors

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
)

type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

type Descriptor struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities"`
}

type HealthStatus struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{connectors: map[string]Connector{}}
}

func (r *Registry) Register(connector Connector) error {
	if connector == nil {
		return fmt.Errorf("connector is nil")
	}

	key := connector.Key()
	if key == "" {
		return fmt.Errorf("connector key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[key]; exists {
		return fmt.Errorf("connector %q already registered", key)
	}

	r.connectors[key] = connector
	return nil
}

// Get looks a connector up by key. Keys are matched case-insensitively and
// a site host or URL resolves to the connector named after it.
func (r *Registry) Get(key string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if connector, ok := r.connectors[key]; ok {
		return connector, true
	}
	connector, ok := r.connectors[NormalizeKey(key)]
	return connector, ok
}

// NormalizeKey turns "AsuraComic", "asuracomic.net" or a series URL into
// the connector key "asuracomic".
func NormalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(key, "://") {
		if parsed, err := url.Parse(key); err == nil && parsed.Hostname() != "" {
			key = parsed.Hostname()
		}
	}
	key = strings.TrimPrefix(key, "www.")
	key = strings.TrimPrefix(key, "m.")
	if dot := strings.Index(key, "."); dot > 0 {
		key = key[:dot]
	}
	return key
}

// SeriesScraper returns the connector of key when it scrapes per series.
func (r *Registry) SeriesScraper(key string) (SeriesScraper, bool) {
	connector, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	scraper, ok := connector.(SeriesScraper)
	return scraper, ok
}

// ServiceScraper returns the connector of key when it scrapes whole feeds.
func (r *Registry) ServiceScraper(key string) (ServiceScraper, bool) {
	connector, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	scraper, ok := connector.(ServiceScraper)
	return scraper, ok
}

// Grammars returns the chapter grammars of key, if it declares any.
func (r *Registry) Grammars(key string) []chapterid.Grammar {
	connector, ok := r.Get(key)
	if !ok {
		return nil
	}
	provider, ok := connector.(GrammarProvider)
	if !ok {
		return nil
	}
	return provider.Grammars()
}

func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Descriptor, 0, len(r.connectors))
	for _, connector := range r.connectors {
		items = append(items, Descriptor{
			Key:          connector.Key(),
			Name:         connector.Name(),
			Kind:         connector.Kind(),
			Capabilities: capabilities(connector),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})

	return items
}

func (r *Registry) Health(ctx context.Context) []HealthStatus {
	r.mu.RLock()
	list := make([]Connector, 0, len(r.connectors))
	for _, connector := range r.connectors {
		list = append(list, connector)
	}
	r.mu.RUnlock()

	statuses := make([]HealthStatus, 0, len(list))
	for _, connector := range list {
		err := connector.HealthCheck(ctx)
		status := HealthStatus{
			Key:     connector.Key(),
			Name:    connector.Name(),
			Kind:    connector.Kind(),
			Healthy: err == nil,
		}
		if err != nil {
			status.Error = err.Error()
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Key < statuses[j].Key
	})

	return statuses
}

func capabilities(connector Connector) []string {
	caps := make([]string, 0, 3)
	if _, ok := connector.(SeriesScraper); ok {
		caps = append(caps, "series")
	}
	if _, ok := connector.(ServiceScraper); ok {
		caps = append(caps, "service")
	}
	if _, ok := connector.(GrammarProvider); ok {
		caps = append(caps, "grammars")
	}
	return caps
}

package connectors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
	"github.com/gabriel/chapter-tracker/internal/connectors"
)

type fakeConnector struct {
	key    string
	name   string
	kind   string
	health error
}

func (f *fakeConnector) Key() string                       { return f.key }
func (f *fakeConnector) Name() string                      { return f.name }
func (f *fakeConnector) Kind() string                      { return f.kind }
func (f *fakeConnector) HealthCheck(context.Context) error { return f.health }

type fakeSeriesConnector struct {
	fakeConnector
}

func (f *fakeSeriesConnector) ScrapeSeries(context.Context, connectors.SeriesRequest) (*connectors.Feed, error) {
	return &connectors.Feed{}, nil
}

func (f *fakeSeriesConnector) Grammars() []chapterid.Grammar {
	return []chapterid.Grammar{chapterid.ExtraSuffixGrammar}
}

type fakeServiceConnector struct {
	fakeConnector
}

func (f *fakeServiceConnector) ScrapeService(context.Context, connectors.ServiceRequest) (*connectors.Feed, error) {
	return &connectors.Feed{}, nil
}

func TestRegistryRegisterListHealth(t *testing.T) {
	r := connectors.NewRegistry()

	if err := r.Register(&fakeSeriesConnector{fakeConnector{key: "b", name: "B", kind: connectors.KindNative}}); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := r.Register(&fakeServiceConnector{fakeConnector{key: "a", name: "A", kind: connectors.KindYAML, health: errors.New("down")}}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(&fakeConnector{key: "a"}); err == nil {
		t.Fatalf("expected duplicate key to fail")
	}
	if err := r.Register(nil); err == nil {
		t.Fatalf("expected nil connector to fail")
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 connectors, got %d", len(list))
	}
	if list[0].Key != "a" || list[1].Key != "b" {
		t.Fatalf("expected sorted keys a,b got %s,%s", list[0].Key, list[1].Key)
	}
	if len(list[0].Capabilities) != 1 || list[0].Capabilities[0] != "service" {
		t.Fatalf("unexpected capabilities for a: %v", list[0].Capabilities)
	}
	if len(list[1].Capabilities) != 2 || list[1].Capabilities[0] != "series" || list[1].Capabilities[1] != "grammars" {
		t.Fatalf("unexpected capabilities for b: %v", list[1].Capabilities)
	}

	health := r.Health(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected 2 health items, got %d", len(health))
	}
	if health[0].Key != "a" || health[0].Healthy {
		t.Fatalf("expected a unhealthy")
	}
	if health[1].Key != "b" || !health[1].Healthy {
		t.Fatalf("expected b healthy")
	}
}

func TestRegistryCapabilityLookups(t *testing.T) {
	r := connectors.NewRegistry()
	if err := r.Register(&fakeSeriesConnector{fakeConnector{key: "series"}}); err != nil {
		t.Fatalf("register series: %v", err)
	}
	if err := r.Register(&fakeServiceConnector{fakeConnector{key: "whole"}}); err != nil {
		t.Fatalf("register whole: %v", err)
	}

	if _, ok := r.SeriesScraper("series"); !ok {
		t.Fatalf("expected series scraper")
	}
	if _, ok := r.SeriesScraper("whole"); ok {
		t.Fatalf("whole-feed connector must not be a series scraper")
	}
	if _, ok := r.ServiceScraper("whole"); !ok {
		t.Fatalf("expected service scraper")
	}
	if len(r.Grammars("series")) != 1 {
		t.Fatalf("expected one grammar")
	}
	if r.Grammars("whole") != nil || r.Grammars("missing") != nil {
		t.Fatalf("expected no grammars")
	}
}

func TestRegistryGetNormalizesHostsAndURLs(t *testing.T) {
	r := connectors.NewRegistry()
	if err := r.Register(&fakeConnector{key: "asuracomic", name: "AsuraComic", kind: connectors.KindNative}); err != nil {
		t.Fatalf("register asuracomic: %v", err)
	}
	if err := r.Register(&fakeConnector{key: "webtoons", name: "WEBTOON", kind: connectors.KindNative}); err != nil {
		t.Fatalf("register webtoons: %v", err)
	}

	asuraTests := []string{
		"asuracomic",
		"AsuraComic",
		"asuracomic.net",
		"https://asuracomic.net/series/nano-machine-11b89554",
		"www.asuracomic.net",
	}
	for _, key := range asuraTests {
		if _, ok := r.Get(key); !ok {
			t.Fatalf("expected asuracomic connector for key %q", key)
		}
	}

	webtoonsTests := []string{
		"webtoons",
		"WebToons",
		"webtoons.com",
		"https://www.webtoons.com/en/romance/maybe-meant-to-be/list?title_no=4208",
		"https://m.webtoons.com/en/romance/maybe-meant-to-be/list?title_no=4208",
	}
	for _, key := range webtoonsTests {
		if _, ok := r.Get(key); !ok {
			t.Fatalf("expected webtoons connector for key %q", key)
		}
	}

	if _, ok := r.Get("mangadex"); ok {
		t.Fatalf("expected no connector for unregistered key")
	}
}

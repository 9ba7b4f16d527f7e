package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gabriel/chapter-tracker/internal/config"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/database/dbtest"
	apihttp "github.com/gabriel/chapter-tracker/internal/http"
)

type fakeConnector struct {
	key string
}

func (f *fakeConnector) Key() string                       { return f.key }
func (f *fakeConnector) Name() string                      { return "Fake " + f.key }
func (f *fakeConnector) Kind() string                      { return connectors.KindNative }
func (f *fakeConnector) HealthCheck(context.Context) error { return nil }
func (f *fakeConnector) ScrapeSeries(context.Context, connectors.SeriesRequest) (*connectors.Feed, error) {
	return &connectors.Feed{}, nil
}

func TestConnectorsEndpoints(t *testing.T) {
	db := dbtest.Open(t)

	registry := connectors.NewRegistry()
	_ = registry.Register(&fakeConnector{key: "mangadex"})
	_ = registry.Register(&fakeConnector{key: "asuracomic"})

	app := apihttp.NewServerWithRegistry(config.Config{AppName: "test"}, db, registry)
	t.Cleanup(func() { _ = app.Shutdown() })

	listRes, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/connectors", nil))
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRes.StatusCode)
	}

	var listPayload struct {
		Items []connectors.Descriptor `json:"items"`
	}
	if err := json.NewDecoder(listRes.Body).Decode(&listPayload); err != nil {
		t.Fatalf("decode list payload: %v", err)
	}
	if len(listPayload.Items) != 2 {
		t.Fatalf("expected 2 connectors, got %d", len(listPayload.Items))
	}
	if listPayload.Items[0].Key != "asuracomic" {
		t.Fatalf("expected connectors sorted by key, got %+v", listPayload.Items)
	}
	if caps := listPayload.Items[0].Capabilities; len(caps) != 1 || caps[0] != "series" {
		t.Fatalf("expected series capability, got %v", caps)
	}

	healthRes, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/connectors/health", nil))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", healthRes.StatusCode)
	}

	var healthPayload struct {
		Items []connectors.HealthStatus `json:"items"`
	}
	if err := json.NewDecoder(healthRes.Body).Decode(&healthPayload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if len(healthPayload.Items) != 2 || !healthPayload.Items[1].Healthy {
		t.Fatalf("unexpected health items %+v", healthPayload.Items)
	}
}

func TestConnectorHealthByKeyAndCapabilityFilter(t *testing.T) {
	db := dbtest.Open(t)

	registry := connectors.NewRegistry()
	_ = registry.Register(&fakeConnector{key: "mangadex"})

	app := apihttp.NewServerWithRegistry(config.Config{AppName: "test"}, db, registry)
	t.Cleanup(func() { _ = app.Shutdown() })

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/connectors/mangadex/health", nil))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	res, err = app.Test(httptest.NewRequest(http.MethodGet, "/v1/connectors/unknown/health", nil))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	res, err = app.Test(httptest.NewRequest(http.MethodGet, "/v1/connectors?capability=service", nil))
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	var payload struct {
		Items []connectors.Descriptor `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode list payload: %v", err)
	}
	if len(payload.Items) != 0 {
		t.Fatalf("expected no whole-feed connectors, got %+v", payload.Items)
	}
}

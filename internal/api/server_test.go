package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/enrich"
	"github.com/fixwise/fixwise/internal/guides"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/testutil"
)

// memStore implements the store surfaces of enrich and guides in
// memory for handler tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*knowledge.Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*knowledge.Entry)}
}

func (m *memStore) put(e *knowledge.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Topic] = e
}

func (m *memStore) FindByCode(ctx context.Context, code string) (*knowledge.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if strings.HasPrefix(e.Topic, code) {
			return e, nil
		}
	}
	return nil, knowledge.ErrNotFound
}

func (m *memStore) GetByTopic(ctx context.Context, topic, category string) (*knowledge.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[topic]; ok {
		return e, nil
	}
	return nil, knowledge.ErrNotFound
}

func (m *memStore) Upsert(ctx context.Context, e *knowledge.Entry, embeddings map[string][]float32) error {
	m.put(e)
	return nil
}

func (m *memStore) SetVehicleData(ctx context.Context, topic, vehicleKey string, data knowledge.VehicleData) error {
	return nil
}

func (m *memStore) Guides(ctx context.Context, topic, lang string) (map[string]knowledge.RepairGuide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[topic]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	out := make(map[string]knowledge.RepairGuide)
	for k, v := range e.GuidesFor(lang) {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) PutGuide(ctx context.Context, topic, lang, causeKey string, guide knowledge.RepairGuide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[topic]
	if !ok {
		return knowledge.ErrNotFound
	}
	if e.Guides == nil {
		e.Guides = make(map[string]map[string]knowledge.RepairGuide)
	}
	if e.Guides[lang] == nil {
		e.Guides[lang] = make(map[string]knowledge.RepairGuide)
	}
	e.Guides[lang][causeKey] = guide
	return nil
}

func (m *memStore) TopicsWithGuides(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

func testServer(t *testing.T, store *memStore, token string) *httptest.Server {
	t.Helper()

	models := config.Providers{ChatModel: "gpt-4o", FallbackModel: "gpt-4o-mini", SearchModel: "sonar"}
	logger := testutil.QuietLogger()

	pipeline := enrich.NewPipeline(store, nil, nil, nil, nil, models,
		enrich.NewSpawner(logger, time.Minute), logger)
	generator := guides.NewGenerator(store, &testutil.MockChat{}, models, logger)

	srv := NewServer(ServerConfig{
		Logger:    logger,
		Pipeline:  pipeline,
		Generator: generator,
		Server: config.Server{
			APIToken:           token,
			AllowedOrigins:     []string{"*"},
			RateLimitPerSecond: 100,
			RateLimitBurst:     100,
		},
		Models: models,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestAnalyzeEndpoint(t *testing.T) {
	store := newMemStore()
	store.put(&knowledge.Entry{
		Topic:    obd.Topic("P0420"),
		Category: knowledge.CategoryErrorCode,
		Titles:   map[string]string{"de": "P0420 Katalysator"},
		Contents: map[string]string{"de": "Inhalt"},
		Causes:   []string{"Defekter Katalysator"},
		Guides: map[string]map[string]knowledge.RepairGuide{
			"de": {"defekter_katalysator": {CauseTitle: "Defekter Katalysator"}},
		},
		DifficultyLevel: "medium",
	})
	ts := testServer(t, store, "")

	resp := postJSON(t, ts.URL+"/api/v1/analyze", "", `{"errorCodes":[{"code":"P0420"}],"language":"de"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Results []enrich.Diagnosis `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Results) != 1 {
		t.Fatalf("results = %d", len(body.Results))
	}
	if body.Results[0].SourceType != enrich.SourceDatabase {
		t.Errorf("sourceType = %q", body.Results[0].SourceType)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestAnalyzeEndpointValidation(t *testing.T) {
	ts := testServer(t, newMemStore(), "")

	resp := postJSON(t, ts.URL+"/api/v1/analyze", "", `{"errorCodes":[]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty codes status = %d", resp.StatusCode)
	}

	resp2 := postJSON(t, ts.URL+"/api/v1/analyze", "", `not json`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp2.StatusCode)
	}

	resp3 := postJSON(t, ts.URL+"/api/v1/analyze", "", `{"errorCodes":[{"code":"P0420"}],"language":"it"}`)
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Errorf("bad language status = %d", resp3.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	ts := testServer(t, newMemStore(), "secret-token")

	resp := postJSON(t, ts.URL+"/api/v1/analyze", "", `{"errorCodes":[{"code":"P0420"}]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d", resp.StatusCode)
	}

	resp2 := postJSON(t, ts.URL+"/api/v1/analyze", "wrong", `{"errorCodes":[{"code":"P0420"}]}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", resp2.StatusCode)
	}

	resp3 := postJSON(t, ts.URL+"/api/v1/analyze", "secret-token", `{"errorCodes":[{"code":"P0420"}]}`)
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("valid token status = %d", resp3.StatusCode)
	}

	// Health stays open.
	hr, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer hr.Body.Close()
	if hr.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", hr.StatusCode)
	}
}

func TestGuideEndpointNotFound(t *testing.T) {
	ts := testServer(t, newMemStore(), "")

	resp := postJSON(t, ts.URL+"/api/v1/guides", "", `{"code":"P0420","causeTitle":"Defekter Katalysator"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown code", resp.StatusCode)
	}
}

func TestGuideEndpointCached(t *testing.T) {
	store := newMemStore()
	store.put(&knowledge.Entry{
		Topic:    obd.Topic("P0420"),
		Category: knowledge.CategoryErrorCode,
		Guides: map[string]map[string]knowledge.RepairGuide{
			"de": {"defekter_katalysator": {
				CauseTitle: "Defekter Katalysator",
				Steps:      []knowledge.GuideStep{{Step: 1, Title: "t", Description: "d"}},
			}},
		},
	})
	ts := testServer(t, store, "")

	resp := postJSON(t, ts.URL+"/api/v1/guides", "", `{"code":"P0420","causeTitle":"Defekter Katalysator","language":"de"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		CauseKey string                `json:"causeKey"`
		Guide    knowledge.RepairGuide `json:"guide"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CauseKey != "defekter_katalysator" {
		t.Errorf("causeKey = %q", body.CauseKey)
	}
	if body.Guide.CauseTitle != "Defekter Katalysator" {
		t.Errorf("guide = %+v", body.Guide)
	}
}

func TestRateLimit(t *testing.T) {
	store := newMemStore()
	models := config.Providers{FallbackModel: "gpt-4o-mini"}
	logger := testutil.QuietLogger()

	srv := NewServer(ServerConfig{
		Logger:    logger,
		Pipeline:  enrich.NewPipeline(store, nil, nil, nil, nil, models, enrich.NewSpawner(logger, time.Minute), logger),
		Generator: guides.NewGenerator(store, &testutil.MockChat{}, models, logger),
		Server: config.Server{
			AllowedOrigins:     []string{"*"},
			RateLimitPerSecond: 0.001,
			RateLimitBurst:     1,
		},
		Models: models,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	first := postJSON(t, ts.URL+"/api/v1/analyze", "", `{"errorCodes":[{"code":"P0420"}]}`)
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", first.StatusCode)
	}

	second := postJSON(t, ts.URL+"/api/v1/analyze", "", `{"errorCodes":[{"code":"P0420"}]}`)
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestChatDisabledWithoutProvider(t *testing.T) {
	ts := testServer(t, newMemStore(), "")
	resp := postJSON(t, ts.URL+"/api/v1/chat", "", `{"message":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when chat is disabled", resp.StatusCode)
	}
}

func TestChatEndpoint(t *testing.T) {
	store := newMemStore()
	models := config.Providers{FallbackModel: "gpt-4o-mini"}
	logger := testutil.QuietLogger()

	chat := &testutil.MockChat{Default: "Pruefe zuerst die Zuendkerzen."}
	srv := NewServer(ServerConfig{
		Logger:    logger,
		Pipeline:  enrich.NewPipeline(store, nil, nil, nil, nil, models, enrich.NewSpawner(logger, time.Minute), logger),
		Generator: guides.NewGenerator(store, &testutil.MockChat{}, models, logger),
		Chat:      chat,
		Server:    config.Server{AllowedOrigins: []string{"*"}, RateLimitPerSecond: 100, RateLimitBurst: 100},
		Models:    models,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/chat", "", `{"message":"Mein Motor ruckelt","language":"de"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Answer == "" {
		t.Error("empty answer")
	}
}

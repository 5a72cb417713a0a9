package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/provider"
)

// MaxRetries is how many attempts an item gets before it is retired
// into failed_topics.
const MaxRetries = 3

// harvestQuality is the quality score assigned to harvested entries.
// Lower than enrichment results, which are grounded in a concrete
// user request.
const harvestQuality = 0.85

const stepTimeout = 90 * time.Second

// Queue is the queue surface the harvester drives.
type Queue interface {
	Dequeue(ctx context.Context) (*QueueItem, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	Requeue(ctx context.Context, id uuid.UUID, errMsg string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Quarantine(ctx context.Context, topic, errorCode, errMsg string, retryCount int) error
}

// KnowledgeStore is the persistence surface for harvested entries.
type KnowledgeStore interface {
	ExistsByTopic(ctx context.Context, topic string) (bool, error)
	Insert(ctx context.Context, e *knowledge.Entry, embeddings map[string][]float32) error
}

// Run outcomes.
const (
	OutcomeEmpty     = "empty"
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// RunResult reports what one harvester run did.
type RunResult struct {
	Outcome  string `json:"outcome"`
	Topic    string `json:"topic,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Harvester processes one queue item per Run. Scheduling is external;
// a cron or the API trigger calls Run repeatedly.
type Harvester struct {
	queue    Queue
	store    KnowledgeStore
	search   provider.Search
	chat     provider.Chat
	embedder provider.Embedder
	models   config.Providers
	logger   log.Logger
}

// NewHarvester wires a Harvester.
func NewHarvester(queue Queue, store KnowledgeStore, search provider.Search, chat provider.Chat, embedder provider.Embedder, models config.Providers, logger log.Logger) *Harvester {
	return &Harvester{
		queue:    queue,
		store:    store,
		search:   search,
		chat:     chat,
		embedder: embedder,
		models:   models,
		logger:   logger.With("component", "harvest"),
	}
}

// Run dequeues and processes one item. Processing errors are absorbed
// into the item's state; Run itself only fails on queue errors.
func (h *Harvester) Run(ctx context.Context) (RunResult, error) {
	item, err := h.queue.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, ErrQueueEmpty) {
			return RunResult{Outcome: OutcomeEmpty}, nil
		}
		return RunResult{}, err
	}

	h.logger.Info("processing topic", "topic", item.Topic, "attempt", item.Attempts)

	skipped, err := h.process(ctx, item)
	if err == nil {
		if markErr := h.queue.MarkCompleted(ctx, item.ID); markErr != nil {
			return RunResult{}, markErr
		}
		outcome := OutcomeCompleted
		if skipped {
			outcome = OutcomeSkipped
		}
		return RunResult{Outcome: outcome, Topic: item.Topic, Attempts: item.Attempts}, nil
	}

	errCode := classifyError(err)
	h.logger.Warn("harvest attempt failed", "topic", item.Topic, "attempt", item.Attempts, "error_code", errCode, "error", err)

	if item.Attempts < MaxRetries {
		if qErr := h.queue.Requeue(ctx, item.ID, err.Error()); qErr != nil {
			return RunResult{}, qErr
		}
		return RunResult{Outcome: OutcomeRetried, Topic: item.Topic, Attempts: item.Attempts, Error: err.Error()}, nil
	}

	if qErr := h.queue.MarkFailed(ctx, item.ID, err.Error()); qErr != nil {
		return RunResult{}, qErr
	}
	if qErr := h.queue.Quarantine(ctx, item.Topic, errCode, err.Error(), item.Attempts); qErr != nil {
		return RunResult{}, qErr
	}
	return RunResult{Outcome: OutcomeFailed, Topic: item.Topic, Attempts: item.Attempts, Error: err.Error()}, nil
}

// harvestInfo is the JSON shape the research model produces.
type harvestInfo struct {
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Symptoms         []string `json:"symptoms"`
	Causes           []string `json:"causes"`
	DiagnosticSteps  []string `json:"diagnostic_steps"`
	RepairSteps      []string `json:"repair_steps"`
	ToolsRequired    []string `json:"tools_required"`
	Keywords         []string `json:"keywords"`
	EstimatedCostEUR float64  `json:"estimated_cost_eur"`
	DifficultyLevel  string   `json:"difficulty_level"`
}

func (h *Harvester) process(ctx context.Context, item *QueueItem) (skipped bool, err error) {
	if h.search == nil {
		return false, provider.ErrNoAPIKey
	}

	rctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	res, err := h.search.Research(rctx, provider.Request{
		Model:       h.models.HarvestModel,
		User:        harvestPrompt(item.Topic, item.SearchLanguage, item.Category),
		Temperature: 0.7,
	})
	if err != nil {
		return false, fmt.Errorf("research topic: %w", err)
	}

	info, err := parseHarvestInfo(res.Content)
	if err != nil {
		return false, err
	}

	// Everything after research is best effort. A missing translation
	// or embedding degrades the entry, it does not fail the item.
	sourceLang := item.SearchLanguage
	if !config.ValidLanguage(sourceLang) {
		sourceLang = "en"
	}

	titles := map[string]string{sourceLang: obd.StripCitations(info.Title)}
	contents := map[string]string{sourceLang: obd.StripCitations(info.Content)}
	for _, lang := range config.SupportedLanguages {
		if lang == sourceLang {
			continue
		}
		title, content, err := h.translate(ctx, info.Title, info.Content, sourceLang, lang)
		if err != nil {
			h.logger.Warn("translation failed, keeping source text", "topic", item.Topic, "lang", lang, "error", err)
			title, content = info.Title, info.Content
		}
		titles[lang] = obd.StripCitations(title)
		contents[lang] = obd.StripCitations(content)
	}

	embeddings := make(map[string][]float32, len(config.SupportedLanguages))
	if h.embedder != nil {
		for _, lang := range config.SupportedLanguages {
			ectx, cancel := context.WithTimeout(ctx, stepTimeout)
			vec, err := h.embedder.Embed(ectx, titles[lang]+"\n\n"+contents[lang])
			cancel()
			if err != nil {
				h.logger.Warn("embedding failed, skipping language", "topic", item.Topic, "lang", lang, "error", err)
				continue
			}
			embeddings[lang] = vec
		}
	}

	exists, err := h.store.ExistsByTopic(ctx, item.Topic)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		h.logger.Info("topic already present, skipping insert", "topic", item.Topic)
		return true, nil
	}

	entry := h.buildEntry(item, info, titles, contents, res.Citations)
	if err := h.store.Insert(ctx, entry, embeddings); err != nil {
		return false, fmt.Errorf("insert harvested entry: %w", err)
	}
	h.logger.Info("topic harvested", "topic", item.Topic, "sources", len(res.Citations))
	return false, nil
}

func (h *Harvester) buildEntry(item *QueueItem, info harvestInfo, titles, contents map[string]string, sources []string) *knowledge.Entry {
	difficulty := info.DifficultyLevel
	switch difficulty {
	case "easy", "medium", "hard", "expert":
	default:
		difficulty = "medium"
	}

	// Null-safety fallbacks mirror what the models occasionally omit.
	if titles["de"] == "" {
		titles["de"] = item.Topic
	}
	if contents["de"] == "" {
		contents["de"] = titles["de"]
	}

	keywords := obd.StripCitationsAll(info.Keywords)
	if len(keywords) == 0 {
		keywords = []string{strings.ToLower(item.Topic)}
	}
	if code := obd.CodeFromTopic(item.Topic); code != item.Topic {
		keywords = append(keywords, code)
	}

	var cost *float64
	if info.EstimatedCostEUR > 0 {
		cost = &info.EstimatedCostEUR
	}

	return &knowledge.Entry{
		Topic:    item.Topic,
		Category: item.Category,
		Titles:   titles,
		Contents: contents,

		Symptoms:        obd.StripCitationsAll(info.Symptoms),
		Causes:          obd.StripCitationsAll(info.Causes),
		DiagnosticSteps: obd.StripCitationsAll(info.DiagnosticSteps),
		RepairSteps:     obd.StripCitationsAll(info.RepairSteps),
		ToolsRequired:   obd.StripCitationsAll(info.ToolsRequired),
		Keywords:        keywords,
		SourceURLs:      sources,

		EstimatedCostEUR: cost,
		DifficultyLevel:  difficulty,
		OriginalLanguage: item.SearchLanguage,
		QualityScore:     harvestQuality,
	}
}

func (h *Harvester) translate(ctx context.Context, title, content, from, to string) (string, string, error) {
	if h.chat == nil {
		return "", "", provider.ErrNoAPIKey
	}

	tctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	raw, err := h.chat.Complete(tctx, provider.Request{
		Model:       h.models.FallbackModel,
		User:        translatePrompt(title, content, from, to),
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return "", "", err
	}

	var out struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		extracted, ok := provider.ExtractJSON(raw)
		if !ok {
			return "", "", fmt.Errorf("decode translation: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &out); err != nil {
			return "", "", fmt.Errorf("decode translation: %w", err)
		}
	}
	if out.Title == "" || out.Content == "" {
		return "", "", errors.New("translation missing fields")
	}
	return out.Title, out.Content, nil
}

func parseHarvestInfo(raw string) (harvestInfo, error) {
	var info harvestInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		extracted, ok := provider.ExtractJSON(raw)
		if !ok {
			return harvestInfo{}, fmt.Errorf("no JSON object in research response: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &info); err != nil {
			return harvestInfo{}, fmt.Errorf("decode research response: %w", err)
		}
	}
	if info.Title == "" || info.Content == "" {
		return harvestInfo{}, errors.New("research response missing title or content")
	}
	return info, nil
}

// classifyError buckets provider failures into coarse codes for the
// quarantine table.
func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "504") || strings.Contains(msg, "deadline exceeded"):
		return "504"
	case strings.Contains(msg, "502"):
		return "502"
	case strings.Contains(msg, "546"):
		return "546"
	default:
		return "500"
	}
}

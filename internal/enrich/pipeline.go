// Package enrich implements the error-code resolution pipeline: cache
// lookup, tiered AI synthesis and the deterministic fallback.
//
// Resolution order per code: knowledge base, web research plus
// structuring, model-knowledge-only synthesis, static system-letter
// fallback. The caller always receives a diagnosis; only its
// sourceType reveals which tier produced it.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/provider"
)

// Source types reported on a Diagnosis. Synthesized diagnoses carry
// the tier that produced them, so callers can tell citation-grounded
// research from model-knowledge-only output.
const (
	SourceDatabase    = "database"
	SourceWebResearch = "web_research"
	SourceLLMFallback = "llm_fallback"
	SourceFallback    = "fallback"
	SourceInvalid     = "invalid"
)

// subStepTimeout bounds each provider call so one hanging tier cannot
// consume the whole request budget.
const subStepTimeout = 90 * time.Second

// ErrSynthesisFailed is returned when every synthesis tier failed.
var ErrSynthesisFailed = errors.New("all synthesis tiers failed")

// Store is the persistence surface the pipeline needs.
type Store interface {
	FindByCode(ctx context.Context, code string) (*knowledge.Entry, error)
	GetByTopic(ctx context.Context, topic, category string) (*knowledge.Entry, error)
	Upsert(ctx context.Context, e *knowledge.Entry, embeddings map[string][]float32) error
	SetVehicleData(ctx context.Context, topic, vehicleKey string, data knowledge.VehicleData) error
}

// GuideFiller generates missing repair guides for a code.
type GuideFiller interface {
	FillForCode(ctx context.Context, code string) (int, error)
}

// Vehicle is the optional vehicle context of a request.
type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year,omitempty"`
}

func (v Vehicle) String() string {
	s := v.Make + " " + v.Model
	if v.Year > 0 {
		s = fmt.Sprintf("%s (%d)", s, v.Year)
	}
	return s
}

// Key returns the vehicle_specific map key.
func (v Vehicle) Key() string {
	return obd.VehicleKey(v.Make, v.Model)
}

// Diagnosis is the per-code result returned to clients.
type Diagnosis struct {
	Code            string                           `json:"code"`
	System          string                           `json:"system"`
	Title           string                           `json:"title"`
	Description     string                           `json:"description"`
	Symptoms        []string                         `json:"symptoms"`
	PossibleCauses  []string                         `json:"possibleCauses"`
	DiagnosticSteps []string                         `json:"diagnosticSteps"`
	EstimatedCost   *float64                         `json:"estimatedCostEur,omitempty"`
	Difficulty      string                           `json:"difficulty"`
	Guides          map[string]knowledge.RepairGuide `json:"repairGuides,omitempty"`
	VehicleData     *knowledge.VehicleData           `json:"vehicleSpecific,omitempty"`
	SourceType      string                           `json:"sourceType"`
}

// QuickInfo is the unpersisted fast answer of the quick phase.
type QuickInfo struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Urgency string `json:"urgency"`
}

// Scenario classifies a cache lookup result.
type Scenario int

const (
	// ScenarioMiss means no stored entry exists.
	ScenarioMiss Scenario = iota
	// ScenarioNoGuides means an entry exists but carries no repair
	// guide for the requested language.
	ScenarioNoGuides
	// ScenarioGuided means the entry already carries guides.
	ScenarioGuided
)

// Classify maps a lookup result onto a Scenario.
func Classify(e *knowledge.Entry, lang string) Scenario {
	if e == nil {
		return ScenarioMiss
	}
	if len(e.GuidesFor(lang)) == 0 {
		return ScenarioNoGuides
	}
	return ScenarioGuided
}

// Pipeline resolves trouble codes. Providers may be nil when their API
// key is missing; each tier degrades to the next one.
type Pipeline struct {
	store    Store
	search   provider.Search
	chat     provider.Chat
	embedder provider.Embedder
	filler   GuideFiller
	models   config.Providers
	spawner  *Spawner
	logger   log.Logger
}

// NewPipeline wires a Pipeline. filler may be nil; guide fill is then
// skipped after synthesis.
func NewPipeline(store Store, search provider.Search, chat provider.Chat, embedder provider.Embedder, filler GuideFiller, models config.Providers, spawner *Spawner, logger log.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		search:   search,
		chat:     chat,
		embedder: embedder,
		filler:   filler,
		models:   models,
		spawner:  spawner,
		logger:   logger.With("component", "enrich"),
	}
}

// Spawner exposes the background task supervisor, mainly so callers
// can drain outstanding work on shutdown.
func (p *Pipeline) Spawner() *Spawner {
	return p.spawner
}

// Analyze resolves a batch of codes. Each code independently walks the
// tier chain; per-code failures degrade to the fallback diagnosis and
// never abort the batch.
func (p *Pipeline) Analyze(ctx context.Context, codes []string, lang string, vehicle *Vehicle) []Diagnosis {
	results := make([]Diagnosis, 0, len(codes))
	for _, raw := range codes {
		results = append(results, p.analyzeOne(ctx, raw, lang, vehicle))
	}
	return results
}

func (p *Pipeline) analyzeOne(ctx context.Context, raw, lang string, vehicle *Vehicle) Diagnosis {
	code, err := obd.ParseCode(raw)
	if err != nil {
		return Diagnosis{
			Code:        raw,
			System:      "unknown",
			Title:       "Unbekanntes Fehlercode-Format",
			Description: "Der uebermittelte Code entspricht nicht dem OBD2-Format (Buchstabe P, C, B oder U gefolgt von vier Ziffern).",
			SourceType:  SourceInvalid,
		}
	}

	entry, err := p.store.FindByCode(ctx, code)
	switch {
	case err == nil:
		d := p.diagnosisFromEntry(code, entry, lang, SourceDatabase, vehicle)
		if Classify(entry, lang) == ScenarioNoGuides {
			p.spawnRefresh(code)
		}
		if vehicle != nil {
			if _, ok := entry.VehicleSpecific[vehicle.Key()]; !ok {
				p.spawnVehicleEnrich(code, *vehicle)
			}
		}
		return d

	case errors.Is(err, knowledge.ErrNotFound):
		d, synErr := p.Synthesize(ctx, code, lang)
		if synErr != nil {
			p.logger.Warn("synthesis failed, serving fallback", "code", code, "error", synErr)
			return Fallback(code, lang)
		}
		return d

	default:
		p.logger.Error("knowledge lookup failed", "code", code, "error", err)
		return Fallback(code, lang)
	}
}

// Synthesize builds, persists and returns a diagnosis for an unknown
// code. Tier order: web research plus structuring, then direct model
// knowledge. Embedding failures are non-fatal; persistence failures
// are.
func (p *Pipeline) Synthesize(ctx context.Context, code, lang string) (Diagnosis, error) {
	source := SourceWebResearch
	info, sources, err := p.research(ctx, code)
	if err != nil {
		p.logger.Info("research tier unavailable, trying direct synthesis", "code", code, "error", err)
		info, err = p.direct(ctx, code)
		if err != nil {
			return Diagnosis{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
		}
		sources = nil
		source = SourceLLMFallback
	}

	entry := p.buildEntry(code, info, sources)

	if en, err := p.translateFields(ctx, info); err != nil {
		p.logger.Warn("translation failed, storing German only", "code", code, "error", err)
	} else {
		entry.Titles["en"] = en.Title
		entry.Contents["en"] = en.Description
		entry.SymptomsEN = en.Symptoms
		entry.CausesEN = en.Causes
	}

	embeddings := p.embedEntry(ctx, entry)

	if err := p.store.Upsert(ctx, entry, embeddings); err != nil {
		return Diagnosis{}, fmt.Errorf("persist synthesized entry: %w", err)
	}
	p.logger.Info("code synthesized", "code", code, "sources", len(sources))

	p.spawnGuideFill(code)

	return p.diagnosisFromEntry(code, entry, lang, source, nil), nil
}

// codeInfo is the JSON shape both synthesis tiers produce.
type codeInfo struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Symptoms         []string `json:"symptoms"`
	Causes           []string `json:"causes"`
	DiagnosticSteps  []string `json:"diagnostic_steps"`
	RepairSteps      []string `json:"repair_steps"`
	ToolsRequired    []string `json:"tools_required"`
	EstimatedCostEUR float64  `json:"estimated_cost_eur"`
	DifficultyLevel  string   `json:"difficulty_level"`
}

func (p *Pipeline) research(ctx context.Context, code string) (codeInfo, []string, error) {
	if p.search == nil {
		return codeInfo{}, nil, provider.ErrNoAPIKey
	}

	rctx, cancel := context.WithTimeout(ctx, subStepTimeout)
	defer cancel()

	res, err := p.search.Research(rctx, provider.Request{
		Model:       p.models.SearchModel,
		User:        researchPrompt(code),
		Temperature: 0.7,
	})
	if err != nil {
		return codeInfo{}, nil, err
	}
	notes := obd.StripCitations(res.Content)

	var raw string
	if p.chat != nil {
		sctx, cancel := context.WithTimeout(ctx, subStepTimeout)
		defer cancel()
		raw, err = p.chat.Complete(sctx, provider.Request{
			Model:       p.models.ChatModel,
			User:        structuringPrompt(code, notes),
			Temperature: 0.1,
			JSONMode:    true,
		})
		if err != nil {
			return codeInfo{}, nil, fmt.Errorf("structure research: %w", err)
		}
	} else {
		// Without a structuring model the research answer itself must
		// already be JSON.
		raw = notes
	}

	info, err := parseCodeInfo(raw)
	if err != nil {
		return codeInfo{}, nil, err
	}
	return info, res.Citations, nil
}

func (p *Pipeline) direct(ctx context.Context, code string) (codeInfo, error) {
	if p.chat == nil {
		return codeInfo{}, provider.ErrNoAPIKey
	}

	dctx, cancel := context.WithTimeout(ctx, subStepTimeout)
	defer cancel()

	raw, err := p.chat.Complete(dctx, provider.Request{
		Model:       p.models.FallbackModel,
		User:        directPrompt(code),
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return codeInfo{}, err
	}
	return parseCodeInfo(raw)
}

func parseCodeInfo(raw string) (codeInfo, error) {
	var info codeInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		extracted, ok := provider.ExtractJSON(raw)
		if !ok {
			return codeInfo{}, fmt.Errorf("no JSON object in model response: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &info); err != nil {
			return codeInfo{}, fmt.Errorf("decode model response: %w", err)
		}
	}
	if info.Title == "" || info.Description == "" {
		return codeInfo{}, errors.New("model response missing title or description")
	}
	return info, nil
}

type translatedFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Symptoms    []string `json:"symptoms"`
	Causes      []string `json:"causes"`
}

func (p *Pipeline) translateFields(ctx context.Context, info codeInfo) (translatedFields, error) {
	if p.chat == nil {
		return translatedFields{}, provider.ErrNoAPIKey
	}

	tctx, cancel := context.WithTimeout(ctx, subStepTimeout)
	defer cancel()

	raw, err := p.chat.Complete(tctx, provider.Request{
		Model:       p.models.FallbackModel,
		User:        translateFieldsPrompt(info),
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return translatedFields{}, err
	}

	var out translatedFields
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		extracted, ok := provider.ExtractJSON(raw)
		if !ok {
			return translatedFields{}, fmt.Errorf("decode translation: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &out); err != nil {
			return translatedFields{}, fmt.Errorf("decode translation: %w", err)
		}
	}
	if out.Title == "" || out.Description == "" {
		return translatedFields{}, errors.New("translation missing fields")
	}
	return out, nil
}

func (p *Pipeline) buildEntry(code string, info codeInfo, sources []string) *knowledge.Entry {
	difficulty := info.DifficultyLevel
	switch difficulty {
	case "easy", "medium", "hard", "expert":
	default:
		difficulty = "medium"
	}

	var cost *float64
	if info.EstimatedCostEUR > 0 {
		cost = &info.EstimatedCostEUR
	}

	quality := float32(0.9)
	if len(sources) == 0 {
		// Direct synthesis carries no citations and is less reliable.
		quality = 0.7
	}

	return &knowledge.Entry{
		Topic:    obd.Topic(code),
		Category: knowledge.CategoryErrorCode,
		Titles:   map[string]string{"de": obd.StripCitations(info.Title)},
		Contents: map[string]string{"de": obd.StripCitations(info.Description)},
		Symptoms: obd.StripCitationsAll(info.Symptoms),
		Causes:   obd.StripCitationsAll(info.Causes),

		DiagnosticSteps: obd.StripCitationsAll(info.DiagnosticSteps),
		RepairSteps:     obd.StripCitationsAll(info.RepairSteps),
		ToolsRequired:   obd.StripCitationsAll(info.ToolsRequired),
		Keywords:        []string{code, obd.System(code)},
		SourceURLs:      sources,

		EstimatedCostEUR: cost,
		DifficultyLevel:  difficulty,
		OriginalLanguage: "de",
		QualityScore:     quality,
	}
}

func (p *Pipeline) embedEntry(ctx context.Context, e *knowledge.Entry) map[string][]float32 {
	if p.embedder == nil {
		return nil
	}

	embeddings := make(map[string][]float32, 2)
	for _, lang := range []string{"de", "en"} {
		title, content := e.Titles[lang], e.Contents[lang]
		if title == "" && content == "" {
			continue
		}
		ectx, cancel := context.WithTimeout(ctx, subStepTimeout)
		vec, err := p.embedder.Embed(ectx, title+"\n\n"+content)
		cancel()
		if err != nil {
			p.logger.Warn("embedding failed", "topic", e.Topic, "lang", lang, "error", err)
			continue
		}
		embeddings[lang] = vec
	}
	return embeddings
}

func (p *Pipeline) diagnosisFromEntry(code string, e *knowledge.Entry, lang, sourceType string, vehicle *Vehicle) Diagnosis {
	symptoms, causes := e.Symptoms, e.Causes
	if lang == "en" {
		if len(e.SymptomsEN) > 0 {
			symptoms = e.SymptomsEN
		}
		if len(e.CausesEN) > 0 {
			causes = e.CausesEN
		}
	}

	guides := e.GuidesFor(lang)
	if len(guides) == 0 {
		guides = e.GuidesFor("de")
	}

	d := Diagnosis{
		Code:            code,
		System:          obd.System(code),
		Title:           e.Title(lang),
		Description:     e.Content(lang),
		Symptoms:        symptoms,
		PossibleCauses:  causes,
		DiagnosticSteps: e.DiagnosticSteps,
		EstimatedCost:   e.EstimatedCostEUR,
		Difficulty:      e.DifficultyLevel,
		Guides:          guides,
		SourceType:      sourceType,
	}

	if vehicle != nil {
		if vd, ok := e.VehicleSpecific[vehicle.Key()]; ok {
			d.VehicleData = &vd
		}
	}
	return d
}

func (p *Pipeline) spawnRefresh(code string) {
	p.spawner.Go("refresh "+code, func(ctx context.Context) {
		if _, err := p.Synthesize(ctx, code, "de"); err != nil {
			p.logger.Warn("background refresh failed", "code", code, "error", err)
		}
	})
}

func (p *Pipeline) spawnGuideFill(code string) {
	if p.filler == nil {
		return
	}
	p.spawner.Go("guides "+code, func(ctx context.Context) {
		if _, err := p.filler.FillForCode(ctx, code); err != nil {
			p.logger.Warn("background guide fill failed", "code", code, "error", err)
		}
	})
}

func (p *Pipeline) spawnVehicleEnrich(code string, v Vehicle) {
	p.spawner.Go("vehicle "+code, func(ctx context.Context) {
		if err := p.EnrichVehicle(ctx, code, v); err != nil {
			p.logger.Warn("background vehicle enrichment failed", "code", code, "vehicle", v.String(), "error", err)
		}
	})
}

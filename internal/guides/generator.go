// Package guides generates, persists and translates step-by-step
// repair guides for diagnosed causes.
//
// Guides are cached per cause key in the knowledge base. Generation is
// incremental: every finished guide is persisted immediately, so an
// aborted run resumes from the cache instead of starting over.
package guides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/provider"
)

// MaxCausesPerCall caps how many new guides one fill invocation
// generates. Remaining causes are picked up by the next call via the
// cache check.
const MaxCausesPerCall = 3

const callTimeout = 90 * time.Second

// ErrNoCauses is returned when an entry has no causes to build guides
// for.
var ErrNoCauses = errors.New("entry has no causes")

// Store is the persistence surface the generator needs.
type Store interface {
	GetByTopic(ctx context.Context, topic, category string) (*knowledge.Entry, error)
	Guides(ctx context.Context, topic, lang string) (map[string]knowledge.RepairGuide, error)
	PutGuide(ctx context.Context, topic, lang, causeKey string, guide knowledge.RepairGuide) error
	TopicsWithGuides(ctx context.Context, limit int) ([]string, error)
}

// Generator builds repair guides via chat completion.
type Generator struct {
	store  Store
	chat   provider.Chat
	models config.Providers
	logger log.Logger
}

// NewGenerator wires a Generator.
func NewGenerator(store Store, chat provider.Chat, models config.Providers, logger log.Logger) *Generator {
	return &Generator{
		store:  store,
		chat:   chat,
		models: models,
		logger: logger.With("component", "guides"),
	}
}

// Generate produces one guide for a cause. The model output is
// normalized structurally afterwards; prompt rules alone are not
// trusted.
func (g *Generator) Generate(ctx context.Context, code, causeTitle, lang string) (knowledge.RepairGuide, error) {
	if g.chat == nil {
		return knowledge.RepairGuide{}, provider.ErrNoAPIKey
	}

	gctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	raw, err := g.chat.Complete(gctx, provider.Request{
		Model:       g.models.FallbackModel,
		User:        generatePrompt(code, causeTitle, lang),
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return knowledge.RepairGuide{}, fmt.Errorf("generate guide: %w", err)
	}

	guide, err := decodeGuide(raw)
	if err != nil {
		return knowledge.RepairGuide{}, err
	}
	if guide.CauseTitle == "" {
		guide.CauseTitle = causeTitle
	}
	normalize(&guide, lang)
	return guide, nil
}

// FillForCode generates missing guides for a code's causes, German
// first, then the English translation. Each guide is persisted as soon
// as it exists. Returns how many new guides were stored.
func (g *Generator) FillForCode(ctx context.Context, code string) (int, error) {
	topic := obd.Topic(code)
	entry, err := g.store.GetByTopic(ctx, topic, knowledge.CategoryErrorCode)
	if err != nil {
		return 0, fmt.Errorf("load entry for guide fill: %w", err)
	}
	if len(entry.Causes) == 0 {
		return 0, ErrNoCauses
	}

	guidesDE, err := g.store.Guides(ctx, topic, "de")
	if err != nil {
		return 0, err
	}
	guidesEN, err := g.store.Guides(ctx, topic, "en")
	if err != nil {
		return 0, err
	}

	created := 0
	for _, cause := range entry.Causes {
		if created >= MaxCausesPerCall {
			g.logger.Info("per-call guide budget reached", "code", code, "created", created)
			break
		}
		key := obd.CauseKey(cause)
		if key == "" {
			continue
		}
		_, hasDE := guidesDE[key]
		_, hasEN := guidesEN[key]
		if hasDE && hasEN {
			continue
		}

		stored := false
		if !hasDE {
			guide, err := g.Generate(ctx, code, cause, "de")
			if err != nil {
				g.logger.Warn("guide generation failed", "code", code, "cause", cause, "error", err)
				continue
			}
			if err := g.store.PutGuide(ctx, topic, "de", key, guide); err != nil {
				g.logger.Error("storing guide failed", "code", code, "cause", cause, "error", err)
				continue
			}
			guidesDE[key] = guide
			stored = true
		}

		if !hasEN {
			translated, err := g.Translate(ctx, guidesDE[key], "de", "en")
			if err != nil {
				g.logger.Warn("guide translation failed", "code", code, "cause", cause, "error", err)
			} else if err := g.store.PutGuide(ctx, topic, "en", key, translated); err != nil {
				g.logger.Error("storing translated guide failed", "code", code, "cause", cause, "error", err)
			} else {
				guidesEN[key] = translated
				stored = true
			}
		}

		// A cause counts only when at least one guide was written;
		// translating an existing DE guide and failing stores nothing.
		if stored {
			created++
		}
	}
	return created, nil
}

// GuideFor returns the cached guide for a cause, generating and
// persisting it on a miss.
func (g *Generator) GuideFor(ctx context.Context, code, causeKey, causeTitle, lang string) (knowledge.RepairGuide, error) {
	topic := obd.Topic(code)
	stored, err := g.store.Guides(ctx, topic, lang)
	if err != nil {
		return knowledge.RepairGuide{}, err
	}
	if guide, ok := stored[causeKey]; ok {
		return guide, nil
	}

	guide, err := g.Generate(ctx, code, causeTitle, lang)
	if err != nil {
		return knowledge.RepairGuide{}, err
	}
	if err := g.store.PutGuide(ctx, topic, lang, causeKey, guide); err != nil {
		return knowledge.RepairGuide{}, err
	}
	return guide, nil
}

func decodeGuide(raw string) (knowledge.RepairGuide, error) {
	var guide knowledge.RepairGuide
	if err := json.Unmarshal([]byte(raw), &guide); err != nil {
		extracted, ok := provider.ExtractJSON(raw)
		if !ok {
			return knowledge.RepairGuide{}, fmt.Errorf("no JSON object in guide response: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &guide); err != nil {
			return knowledge.RepairGuide{}, fmt.Errorf("decode guide: %w", err)
		}
	}
	if len(guide.Steps) == 0 {
		return knowledge.RepairGuide{}, errors.New("guide has no steps")
	}
	return guide, nil
}

// scannerStepRe matches steps that tell the user to hook up a scanner
// and read codes, which the pipeline already did.
var scannerStepRe = regexp.MustCompile(`(?i)(obd2?.{0,12}(scanner|leser|reader)|fehlerspeicher auslesen|fault (memory|codes?) read|diagnoseger)`)

var verifyStep = map[string]knowledge.GuideStep{
	"de": {
		Title:           "Fehlercode loeschen und Reparatur verifizieren",
		Description:     "Fehlercode mit dem OBD2-Scanner loeschen, eine Probefahrt von mindestens 15 Minuten mit wechselnden Drehzahlen durchfuehren und pruefen, dass der Fehlercode nicht erneut gespeichert wird.",
		DurationMinutes: 30,
		Tools:           []string{"OBD2-Scanner"},
	},
	"en": {
		Title:           "Clear the error code and verify the repair",
		Description:     "Clear the error code with an OBD2 scanner, take a test drive of at least 15 minutes with varying engine speeds and confirm the code does not return.",
		DurationMinutes: 30,
		Tools:           []string{"OBD2 scanner"},
	},
}

// normalize enforces the structural guide invariants: no citation
// markers, contiguous step numbers, no scanner steps in the middle and
// a closing verification step.
func normalize(guide *knowledge.RepairGuide, lang string) {
	guide.CauseTitle = obd.StripCitations(guide.CauseTitle)
	guide.ToolsRequired = obd.StripCitationsAll(guide.ToolsRequired)
	guide.SafetyWarnings = obd.StripCitationsAll(guide.SafetyWarnings)
	guide.WhenToCallMechanic = obd.StripCitationsAll(guide.WhenToCallMechanic)

	switch guide.DifficultyLevel {
	case "easy", "medium", "hard", "expert":
	default:
		guide.DifficultyLevel = "medium"
	}
	if len(guide.EstimatedCostEUR) == 1 {
		guide.EstimatedCostEUR = append(guide.EstimatedCostEUR, guide.EstimatedCostEUR[0])
	}

	steps := guide.Steps[:0]
	for _, s := range guide.Steps {
		s.Title = obd.StripCitations(s.Title)
		s.Description = obd.StripCitations(s.Description)
		s.SafetyWarning = obd.StripCitations(s.SafetyWarning)
		s.Tips = obd.StripCitations(s.Tips)
		s.Tools = obd.StripCitationsAll(s.Tools)
		if scannerStepRe.MatchString(s.Title) || scannerStepRe.MatchString(s.Description) {
			continue
		}
		steps = append(steps, s)
	}
	guide.Steps = steps

	final, ok := verifyStep[lang]
	if !ok {
		final = verifyStep["de"]
	}
	guide.Steps = append(guide.Steps, final)

	for i := range guide.Steps {
		guide.Steps[i].Step = i + 1
	}
}

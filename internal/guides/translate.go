package guides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/provider"
)

// Translate converts a guide between languages with a single chat
// call. The result is schema-checked; a translation that lost steps or
// the cause title is rejected.
func (g *Generator) Translate(ctx context.Context, guide knowledge.RepairGuide, from, to string) (knowledge.RepairGuide, error) {
	if g.chat == nil {
		return knowledge.RepairGuide{}, provider.ErrNoAPIKey
	}

	encoded, err := json.Marshal(guide)
	if err != nil {
		return knowledge.RepairGuide{}, fmt.Errorf("encode guide: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	raw, err := g.chat.Complete(tctx, provider.Request{
		Model:       g.models.FallbackModel,
		User:        translatePrompt(string(encoded), from, to),
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return knowledge.RepairGuide{}, fmt.Errorf("translate guide: %w", err)
	}

	translated, err := decodeGuide(raw)
	if err != nil {
		return knowledge.RepairGuide{}, err
	}
	if translated.CauseTitle == "" || len(translated.Steps) != len(guide.Steps) {
		return knowledge.RepairGuide{}, errors.New("translation dropped guide fields")
	}
	return translated, nil
}

// TranslateReport summarizes a TranslateMissing run.
type TranslateReport struct {
	Processed  int  `json:"processed"`
	Translated int  `json:"translated"`
	Skipped    int  `json:"skipped"`
	Failed     int  `json:"failed"`
	DryRun     bool `json:"dryRun"`
}

// TranslateMissing fills guide-language gaps. German is canonical:
// keys present in German but missing in English are translated de to
// en; entries with only English guides get the reverse. With no codes
// given, recently guided entries are swept. Every translated guide is
// persisted before the next one starts.
func (g *Generator) TranslateMissing(ctx context.Context, codes []string, dryRun bool) (TranslateReport, error) {
	report := TranslateReport{DryRun: dryRun}

	topics := make([]string, 0, len(codes))
	if len(codes) > 0 {
		for _, code := range codes {
			normalized, err := obd.ParseCode(code)
			if err != nil {
				return report, err
			}
			topics = append(topics, obd.Topic(normalized))
		}
	} else {
		var err error
		topics, err = g.store.TopicsWithGuides(ctx, 50)
		if err != nil {
			return report, err
		}
	}

	for _, topic := range topics {
		report.Processed++
		if err := g.translateTopic(ctx, topic, dryRun, &report); err != nil {
			g.logger.Warn("guide translation sweep failed for entry", "topic", topic, "error", err)
			report.Failed++
		}
	}
	return report, nil
}

func (g *Generator) translateTopic(ctx context.Context, topic string, dryRun bool, report *TranslateReport) error {
	guidesDE, err := g.store.Guides(ctx, topic, "de")
	if err != nil {
		return err
	}
	guidesEN, err := g.store.Guides(ctx, topic, "en")
	if err != nil {
		return err
	}

	from, to := "de", "en"
	source, target := guidesDE, guidesEN
	if len(guidesDE) == 0 && len(guidesEN) > 0 {
		from, to = "en", "de"
		source, target = guidesEN, guidesDE
	}

	for key, guide := range source {
		if _, ok := target[key]; ok {
			report.Skipped++
			continue
		}
		if dryRun {
			report.Translated++
			continue
		}

		translated, err := g.Translate(ctx, guide, from, to)
		if err != nil {
			g.logger.Warn("guide translation failed", "topic", topic, "cause", key, "error", err)
			report.Failed++
			continue
		}
		if err := g.store.PutGuide(ctx, topic, to, key, translated); err != nil {
			report.Failed++
			continue
		}
		report.Translated++
	}
	return nil
}

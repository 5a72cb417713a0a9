package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/provider"
)

// Actions reported by EnrichCode.
const (
	ActionSkipped         = "skipped"
	ActionSynthesized     = "synthesized"
	ActionVehicleEnriched = "vehicle_enriched"
	ActionQuick           = "quick"
)

// EnrichResult reports what the single-code enrichment did.
type EnrichResult struct {
	Action    string     `json:"action"`
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
	Quick     *QuickInfo `json:"quick,omitempty"`
}

// EnrichCode enriches one code on demand. quick returns an unpersisted
// short assessment; otherwise the full pipeline runs, skipping codes
// that are already complete.
func (p *Pipeline) EnrichCode(ctx context.Context, rawCode string, vehicle *Vehicle, quick bool) (EnrichResult, error) {
	code, err := obd.ParseCode(rawCode)
	if err != nil {
		return EnrichResult{}, err
	}

	if quick {
		info, err := p.quickInfo(ctx, code)
		if err != nil {
			return EnrichResult{}, err
		}
		return EnrichResult{Action: ActionQuick, Quick: info}, nil
	}

	entry, err := p.store.FindByCode(ctx, code)
	switch {
	case err == nil:
		if isComplete(entry) {
			if vehicle != nil {
				if _, ok := entry.VehicleSpecific[vehicle.Key()]; !ok {
					if err := p.EnrichVehicle(ctx, code, *vehicle); err != nil {
						return EnrichResult{}, err
					}
					return EnrichResult{Action: ActionVehicleEnriched}, nil
				}
			}
			return EnrichResult{Action: ActionSkipped}, nil
		}
		// Shallow legacy row: resynthesize in place.
		d, err := p.Synthesize(ctx, code, "de")
		if err != nil {
			return EnrichResult{}, err
		}
		return EnrichResult{Action: ActionSynthesized, Diagnosis: &d}, nil

	case errors.Is(err, knowledge.ErrNotFound):
		d, err := p.Synthesize(ctx, code, "de")
		if err != nil {
			return EnrichResult{}, err
		}
		return EnrichResult{Action: ActionSynthesized, Diagnosis: &d}, nil

	default:
		return EnrichResult{}, fmt.Errorf("lookup %s: %w", code, err)
	}
}

// EnrichVehicle researches model-specific data for a known code and
// merges it under the vehicle key. Already-present data is kept.
func (p *Pipeline) EnrichVehicle(ctx context.Context, code string, v Vehicle) error {
	if p.search == nil {
		return provider.ErrNoAPIKey
	}

	topic := obd.Topic(code)
	entry, err := p.store.GetByTopic(ctx, topic, knowledge.CategoryErrorCode)
	if err != nil {
		return fmt.Errorf("load entry for vehicle enrichment: %w", err)
	}
	if _, ok := entry.VehicleSpecific[v.Key()]; ok {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, subStepTimeout)
	defer cancel()

	res, err := p.search.Research(rctx, provider.Request{
		Model:       p.models.SearchModel,
		User:        vehiclePrompt(code, v),
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("vehicle research: %w", err)
	}

	raw, ok := provider.ExtractJSON(res.Content)
	if !ok {
		return errors.New("no JSON object in vehicle research response")
	}

	var data knowledge.VehicleData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("decode vehicle data: %w", err)
	}

	data.MostLikelyCause = obd.StripCitations(data.MostLikelyCause)
	data.SpecificNotes = obd.StripCitations(data.SpecificNotes)
	data.Issues = obd.StripCitationsAll(data.Issues)

	if err := p.store.SetVehicleData(ctx, topic, v.Key(), data); err != nil {
		return err
	}
	p.logger.Info("vehicle data stored", "code", code, "vehicle", v.String())
	return nil
}

func (p *Pipeline) quickInfo(ctx context.Context, code string) (*QuickInfo, error) {
	if p.chat == nil {
		return nil, provider.ErrNoAPIKey
	}

	qctx, cancel := context.WithTimeout(ctx, subStepTimeout)
	defer cancel()

	raw, err := p.chat.Complete(qctx, provider.Request{
		Model:       p.models.FallbackModel,
		User:        quickPrompt(code),
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var info QuickInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		extracted, ok := provider.ExtractJSON(raw)
		if !ok {
			return nil, fmt.Errorf("decode quick info: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), &info); err != nil {
			return nil, fmt.Errorf("decode quick info: %w", err)
		}
	}
	return &info, nil
}

// isComplete reports whether an entry has enough substance that a
// resynthesis would not add anything.
func isComplete(e *knowledge.Entry) bool {
	return e.Titles["de"] != "" && e.Contents["de"] != "" && len(e.Causes) > 0
}

func jsonStrings(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

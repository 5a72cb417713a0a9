// Package knowledge implements the automotive knowledge base on
// Postgres with pgvector.
//
// Rows are addressed by the natural key (topic, category). Error-code
// entries use category "fehlercode" and the topic form
// "P0420 OBD2 diagnostic trouble code". German is the canonical
// content language; en/fr/es columns are translations.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// CategoryErrorCode is the category all trouble-code entries live in.
const CategoryErrorCode = "fehlercode"

// Entry is one knowledge-base row. Titles, Contents and Guides are
// keyed by language code (de, en, fr, es). Embedding vectors are
// write-only and passed separately on insert/upsert.
type Entry struct {
	ID          uuid.UUID
	Topic       string
	Category    string
	Subcategory string

	Titles   map[string]string
	Contents map[string]string

	Symptoms        []string
	SymptomsEN      []string
	Causes          []string
	CausesEN        []string
	DiagnosticSteps []string
	RepairSteps     []string
	ToolsRequired   []string
	Keywords        []string
	SourceURLs      []string

	EstimatedCostEUR *float64
	DifficultyLevel  string
	OriginalLanguage string
	QualityScore     float32

	VehicleSpecific map[string]VehicleData
	Guides          map[string]map[string]RepairGuide

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Title returns the title in lang, falling back to German.
func (e *Entry) Title(lang string) string {
	if t := e.Titles[lang]; t != "" {
		return t
	}
	return e.Titles["de"]
}

// Content returns the content in lang, falling back to German.
func (e *Entry) Content(lang string) string {
	if c := e.Contents[lang]; c != "" {
		return c
	}
	return e.Contents["de"]
}

// GuidesFor returns the guide map for lang. May be nil.
func (e *Entry) GuidesFor(lang string) map[string]RepairGuide {
	if e.Guides == nil {
		return nil
	}
	return e.Guides[lang]
}

// VehicleData is the per-vehicle enrichment stored under a vehicle key
// (e.g. "vw_golf_7") in the vehicle_specific column.
type VehicleData struct {
	Issues           []string `json:"issues"`
	MostLikelyCause  string   `json:"most_likely_cause"`
	TypicalMileageKM int      `json:"typical_mileage_km"`
	PartNumbers      []string `json:"part_numbers"`
	CostEstimateEUR  string   `json:"cost_estimate_eur"`
	SpecificNotes    string   `json:"specific_notes"`
}

// RepairGuide is one step-by-step guide, stored per cause key in the
// repair_guides_{lang} columns.
type RepairGuide struct {
	CauseTitle         string      `json:"cause_title"`
	DifficultyLevel    string      `json:"difficulty_level"`
	EstimatedTimeHours float64     `json:"estimated_time_hours"`
	EstimatedCostEUR   []float64   `json:"estimated_cost_eur"`
	ForBeginners       bool        `json:"for_beginners"`
	Steps              []GuideStep `json:"steps"`
	ToolsRequired      []string    `json:"tools_required"`
	SafetyWarnings     []string    `json:"safety_warnings"`
	WhenToCallMechanic []string    `json:"when_to_call_mechanic"`
}

// GuideStep is a single numbered repair step.
type GuideStep struct {
	Step            int      `json:"step"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	DurationMinutes int      `json:"duration_minutes"`
	SafetyWarning   string   `json:"safety_warning,omitempty"`
	Tools           []string `json:"tools,omitempty"`
	Tips            string   `json:"tips,omitempty"`
}

// SearchHit is one vector-search result for RAG retrieval.
type SearchHit struct {
	Topic      string
	Title      string
	Content    string
	Similarity float64
}

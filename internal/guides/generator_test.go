package guides_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/guides"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/testutil"
)

// fakeStore is an in-memory guides.Store.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*knowledge.Entry
	guides  map[string]map[string]map[string]knowledge.RepairGuide // topic -> lang -> key
	puts    []string
	failPut error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[string]*knowledge.Entry),
		guides:  make(map[string]map[string]map[string]knowledge.RepairGuide),
	}
}

func (f *fakeStore) put(e *knowledge.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.Topic] = e
}

func (f *fakeStore) GetByTopic(ctx context.Context, topic, category string) (*knowledge.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[topic]; ok {
		return e, nil
	}
	return nil, knowledge.ErrNotFound
}

func (f *fakeStore) Guides(ctx context.Context, topic, lang string) (map[string]knowledge.RepairGuide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[topic]; !ok {
		return nil, knowledge.ErrNotFound
	}
	out := make(map[string]knowledge.RepairGuide)
	for k, v := range f.guides[topic][lang] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) PutGuide(ctx context.Context, topic, lang, causeKey string, guide knowledge.RepairGuide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != nil {
		return f.failPut
	}
	if _, ok := f.entries[topic]; !ok {
		return knowledge.ErrNotFound
	}
	if f.guides[topic] == nil {
		f.guides[topic] = make(map[string]map[string]knowledge.RepairGuide)
	}
	if f.guides[topic][lang] == nil {
		f.guides[topic][lang] = make(map[string]knowledge.RepairGuide)
	}
	f.guides[topic][lang][causeKey] = guide
	f.puts = append(f.puts, lang+":"+causeKey)
	return nil
}

func (f *fakeStore) TopicsWithGuides(ctx context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var topics []string
	for topic, langs := range f.guides {
		if len(langs["de"]) > 0 || len(langs["en"]) > 0 {
			topics = append(topics, topic)
		}
	}
	return topics, nil
}

func (f *fakeStore) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func testModels() config.Providers {
	return config.Providers{FallbackModel: "gpt-4o-mini"}
}

func guideJSON(causeTitle string, stepTitles ...string) string {
	steps := make([]knowledge.GuideStep, len(stepTitles))
	for i, title := range stepTitles {
		steps[i] = knowledge.GuideStep{Step: i + 1, Title: title, Description: "Beschreibung fuer " + title, DurationMinutes: 10}
	}
	g := knowledge.RepairGuide{
		CauseTitle:       causeTitle,
		DifficultyLevel:  "medium",
		EstimatedCostEUR: []float64{100, 300},
		Steps:            steps,
		ToolsRequired:    []string{"Wagenheber"},
	}
	b, _ := json.Marshal(g)
	return string(b)
}

func entryWithCauses(code string, causes ...string) *knowledge.Entry {
	return &knowledge.Entry{
		Topic:    obd.Topic(code),
		Category: knowledge.CategoryErrorCode,
		Titles:   map[string]string{"de": code},
		Contents: map[string]string{"de": "Inhalt"},
		Causes:   causes,
	}
}

func TestGenerateNormalizesStructure(t *testing.T) {
	chat := &testutil.MockChat{Default: `{
		"cause_title": "Defekter Katalysator [1]",
		"difficulty_level": "unknown",
		"estimated_cost_eur": [400],
		"steps": [
			{"step": 3, "title": "Fahrzeug anheben", "description": "Fahrzeug sicher aufbocken [2]"},
			{"step": 1, "title": "OBD2-Scanner anschliessen", "description": "Fehlerspeicher auslesen"},
			{"step": 9, "title": "Katalysator tauschen", "description": "Alten Katalysator ausbauen"}
		],
		"tools_required": ["Wagenheber [3]"],
		"safety_warnings": ["Heisse Abgasanlage [4]"]
	}`}

	g := guides.NewGenerator(newFakeStore(), chat, testModels(), testutil.QuietLogger())
	guide, err := g.Generate(context.Background(), "P0420", "Defekter Katalysator", "de")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if guide.CauseTitle != "Defekter Katalysator" {
		t.Errorf("causeTitle = %q", guide.CauseTitle)
	}
	if guide.DifficultyLevel != "medium" {
		t.Errorf("difficulty = %q", guide.DifficultyLevel)
	}
	if len(guide.EstimatedCostEUR) != 2 {
		t.Errorf("cost range = %v", guide.EstimatedCostEUR)
	}

	// Scanner step dropped, verification step appended, numbers contiguous.
	if len(guide.Steps) != 3 {
		t.Fatalf("steps = %d: %+v", len(guide.Steps), guide.Steps)
	}
	for i, s := range guide.Steps {
		if s.Step != i+1 {
			t.Errorf("step %d numbered %d", i, s.Step)
		}
		if i < len(guide.Steps)-1 && strings.Contains(strings.ToLower(s.Title), "scanner") {
			t.Errorf("scanner step survived in middle: %q", s.Title)
		}
		if strings.Contains(s.Description, "[") {
			t.Errorf("citation in step description: %q", s.Description)
		}
	}
	last := guide.Steps[len(guide.Steps)-1]
	if !strings.Contains(last.Title, "Fehlercode loeschen") {
		t.Errorf("last step = %q, want verification step", last.Title)
	}
	if strings.Contains(guide.ToolsRequired[0], "[3]") {
		t.Errorf("citation in tools: %v", guide.ToolsRequired)
	}
}

func TestGeneratePromptAnchorsComponentLocations(t *testing.T) {
	chat := &testutil.MockChat{Default: guideJSON("Defekte Kraftstoffpumpe", "Ruecksitzbank ausbauen")}
	g := guides.NewGenerator(newFakeStore(), chat, testModels(), testutil.QuietLogger())
	if _, err := g.Generate(context.Background(), "P0230", "Defekte Kraftstoffpumpe", "de"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	calls := chat.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	prompt := calls[0].User
	for _, component := range []string{
		"Catalytic converter",
		"Lambda (O2) sensor",
		"MAF sensor",
		"Throttle body",
		"Camshaft sensor",
		"Crankshaft sensor",
		"Fuel pump: inside the fuel tank",
		"Turbocharger",
		"Diesel particulate filter",
		"EGR valve",
	} {
		if !strings.Contains(prompt, component) {
			t.Errorf("prompt missing location anchor for %q", component)
		}
	}
}

func TestGenerateRejectsEmptySteps(t *testing.T) {
	chat := &testutil.MockChat{Default: `{"cause_title":"x","steps":[]}`}
	g := guides.NewGenerator(newFakeStore(), chat, testModels(), testutil.QuietLogger())
	if _, err := g.Generate(context.Background(), "P0420", "x", "de"); err == nil {
		t.Fatal("expected error for guide without steps")
	}
}

func TestFillForCodePersistsPerGuide(t *testing.T) {
	store := newFakeStore()
	store.put(entryWithCauses("P0420", "Defekter Katalysator", "Defekte Lambdasonde"))

	// Generated German guides gain the closing verification step, so
	// the translated counterpart must carry three steps as well.
	chat := &testutil.MockChat{}
	chat.AddResponse("Translate all free-text", guideJSON("Faulty part", "Lift vehicle", "Replace part", "Clear code"))
	chat.AddResponse("DIY repair", guideJSON("Defektes Teil", "Fahrzeug anheben", "Teil tauschen"))

	g := guides.NewGenerator(store, chat, testModels(), testutil.QuietLogger())
	created, err := g.FillForCode(context.Background(), "P0420")
	if err != nil {
		t.Fatalf("FillForCode: %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d", created)
	}
	// 2 causes x 2 languages.
	if store.putCount() != 4 {
		t.Errorf("puts = %d (%v)", store.putCount(), store.puts)
	}
}

func TestFillForCodeSkipsCachedAndCaps(t *testing.T) {
	store := newFakeStore()
	causes := []string{"Ursache eins", "Ursache zwei", "Ursache drei", "Ursache vier", "Ursache fuenf"}
	store.put(entryWithCauses("P0300", causes...))

	cached := knowledge.RepairGuide{CauseTitle: "Ursache eins", Steps: []knowledge.GuideStep{{Step: 1, Title: "t", Description: "d"}}}
	if err := store.PutGuide(context.Background(), obd.Topic("P0300"), "de", "ursache_eins", cached); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.PutGuide(context.Background(), obd.Topic("P0300"), "en", "ursache_eins", cached); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.mu.Lock()
	store.puts = nil
	store.mu.Unlock()

	chat := &testutil.MockChat{}
	chat.AddResponse("Translate all free-text", guideJSON("Cause", "Step one", "Step two", "Clear code"))
	chat.AddResponse("DIY repair", guideJSON("Ursache", "Schritt eins", "Schritt zwei"))

	g := guides.NewGenerator(store, chat, testModels(), testutil.QuietLogger())
	created, err := g.FillForCode(context.Background(), "P0300")
	if err != nil {
		t.Fatalf("FillForCode: %v", err)
	}
	if created != guides.MaxCausesPerCall {
		t.Errorf("created = %d, want cap %d", created, guides.MaxCausesPerCall)
	}

	// The cached cause was skipped without provider calls for it.
	deGuides, _ := store.Guides(context.Background(), obd.Topic("P0300"), "de")
	if len(deGuides) != 1+guides.MaxCausesPerCall {
		t.Errorf("de guides = %d", len(deGuides))
	}
	if _, ok := deGuides["ursache_fuenf"]; ok {
		t.Error("cap exceeded: fifth cause generated")
	}
}

func TestFillForCodeContinuesAfterFailure(t *testing.T) {
	store := newFakeStore()
	store.put(entryWithCauses("P0171", "Kaputte Ursache", "Gute Ursache"))

	chat := &testutil.MockChat{}
	chat.AddError("Kaputte Ursache", errors.New("model refused"))
	chat.AddResponse("Translate all free-text", guideJSON("Good cause", "Step", "Clear code"))
	chat.AddResponse("DIY repair", guideJSON("Gute Ursache", "Schritt"))

	g := guides.NewGenerator(store, chat, testModels(), testutil.QuietLogger())
	created, err := g.FillForCode(context.Background(), "P0171")
	if err != nil {
		t.Fatalf("FillForCode: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1 (second cause despite first failing)", created)
	}
	deGuides, _ := store.Guides(context.Background(), obd.Topic("P0171"), "de")
	if _, ok := deGuides["gute_ursache"]; !ok {
		t.Error("surviving cause not persisted")
	}
}

func TestFillForCodeFailedTranslationNotCounted(t *testing.T) {
	store := newFakeStore()
	store.put(entryWithCauses("P0442", "Defekter Tankdeckel"))

	seeded := knowledge.RepairGuide{CauseTitle: "Defekter Tankdeckel", Steps: []knowledge.GuideStep{{Step: 1, Title: "t", Description: "d"}}}
	if err := store.PutGuide(context.Background(), obd.Topic("P0442"), "de", "defekter_tankdeckel", seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.mu.Lock()
	store.puts = nil
	store.mu.Unlock()

	chat := &testutil.MockChat{Err: errors.New("translator down")}
	g := guides.NewGenerator(store, chat, testModels(), testutil.QuietLogger())
	created, err := g.FillForCode(context.Background(), "P0442")
	if err != nil {
		t.Fatalf("FillForCode: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0 when nothing was stored", created)
	}
	if store.putCount() != 0 {
		t.Errorf("puts = %d (%v)", store.putCount(), store.puts)
	}
}

func TestFillForCodeNoCauses(t *testing.T) {
	store := newFakeStore()
	store.put(entryWithCauses("P0001"))

	g := guides.NewGenerator(store, &testutil.MockChat{}, testModels(), testutil.QuietLogger())
	if _, err := g.FillForCode(context.Background(), "P0001"); !errors.Is(err, guides.ErrNoCauses) {
		t.Fatalf("err = %v, want ErrNoCauses", err)
	}
}

func TestTranslateRejectsDroppedSteps(t *testing.T) {
	chat := &testutil.MockChat{Default: guideJSON("Cause", "only one step")}
	g := guides.NewGenerator(newFakeStore(), chat, testModels(), testutil.QuietLogger())

	source := knowledge.RepairGuide{
		CauseTitle: "Ursache",
		Steps: []knowledge.GuideStep{
			{Step: 1, Title: "a", Description: "a"},
			{Step: 2, Title: "b", Description: "b"},
		},
	}
	if _, err := g.Translate(context.Background(), source, "de", "en"); err == nil {
		t.Fatal("expected error when translation drops steps")
	}
}

func TestTranslateMissingDirectionAndDryRun(t *testing.T) {
	store := newFakeStore()
	store.put(entryWithCauses("P0420", "Defekter Katalysator"))
	store.put(entryWithCauses("P0171", "Vacuum leak"))

	deGuide := knowledge.RepairGuide{CauseTitle: "Defekter Katalysator", Steps: []knowledge.GuideStep{{Step: 1, Title: "t", Description: "d"}}}
	enGuide := knowledge.RepairGuide{CauseTitle: "Vacuum leak", Steps: []knowledge.GuideStep{{Step: 1, Title: "t", Description: "d"}}}
	_ = store.PutGuide(context.Background(), obd.Topic("P0420"), "de", "defekter_katalysator", deGuide)
	_ = store.PutGuide(context.Background(), obd.Topic("P0171"), "en", "vacuum_leak", enGuide)

	g := guides.NewGenerator(store, &testutil.MockChat{}, testModels(), testutil.QuietLogger())

	report, err := g.TranslateMissing(context.Background(), []string{"P0420", "P0171"}, true)
	if err != nil {
		t.Fatalf("TranslateMissing dry run: %v", err)
	}
	if report.Translated != 2 || report.Failed != 0 {
		t.Errorf("dry run report = %+v", report)
	}

	chat := &testutil.MockChat{Default: guideJSON("Translated", "step")}
	g = guides.NewGenerator(store, chat, testModels(), testutil.QuietLogger())
	report, err = g.TranslateMissing(context.Background(), []string{"P0420", "P0171"}, false)
	if err != nil {
		t.Fatalf("TranslateMissing: %v", err)
	}
	if report.Translated != 2 {
		t.Errorf("report = %+v", report)
	}

	enGuides, _ := store.Guides(context.Background(), obd.Topic("P0420"), "en")
	if _, ok := enGuides["defekter_katalysator"]; !ok {
		t.Error("de guide not translated to en")
	}
	deGuides, _ := store.Guides(context.Background(), obd.Topic("P0171"), "de")
	if _, ok := deGuides["vacuum_leak"]; !ok {
		t.Error("en-only entry not translated to de")
	}
}

func TestGuideForUsesCache(t *testing.T) {
	store := newFakeStore()
	store.put(entryWithCauses("P0420", "Defekter Katalysator"))
	cached := knowledge.RepairGuide{CauseTitle: "Defekter Katalysator", Steps: []knowledge.GuideStep{{Step: 1, Title: "t", Description: "d"}}}
	_ = store.PutGuide(context.Background(), obd.Topic("P0420"), "de", "defekter_katalysator", cached)

	chat := &testutil.MockChat{}
	g := guides.NewGenerator(store, chat, testModels(), testutil.QuietLogger())

	guide, err := g.GuideFor(context.Background(), "P0420", "defekter_katalysator", "Defekter Katalysator", "de")
	if err != nil {
		t.Fatalf("GuideFor: %v", err)
	}
	if guide.CauseTitle != cached.CauseTitle {
		t.Errorf("guide = %+v", guide)
	}
	if chat.CallCount() != 0 {
		t.Errorf("cache hit still called provider %d times", chat.CallCount())
	}

	chat.AddResponse("DIY repair", guideJSON("Defekte Lambdasonde", "Schritt"))
	if _, err := g.GuideFor(context.Background(), "P0420", "defekte_lambdasonde", "Defekte Lambdasonde", "de"); err != nil {
		t.Fatalf("GuideFor miss: %v", err)
	}
	deGuides, _ := store.Guides(context.Background(), obd.Topic("P0420"), "de")
	if len(deGuides) != 2 {
		t.Errorf("generated guide not persisted: %v", deGuides)
	}
}

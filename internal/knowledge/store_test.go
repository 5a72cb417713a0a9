package knowledge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/testutil"
)

func testEntry(code string) *knowledge.Entry {
	return &knowledge.Entry{
		Topic:    code + " OBD2 diagnostic trouble code",
		Category: knowledge.CategoryErrorCode,
		Titles: map[string]string{
			"de": code + " Katalysator Wirkungsgrad",
			"en": code + " Catalyst Efficiency Below Threshold",
		},
		Contents: map[string]string{
			"de": "Der Katalysator arbeitet unterhalb der Effizienzschwelle.",
			"en": "The catalytic converter operates below the efficiency threshold.",
		},
		Symptoms:         []string{"Motorkontrollleuchte an"},
		SymptomsEN:       []string{"Check engine light on"},
		Causes:           []string{"Defekter Katalysator", "Defekte Lambdasonde"},
		CausesEN:         []string{"Faulty catalytic converter", "Faulty oxygen sensor"},
		DiagnosticSteps:  []string{"Fehlerspeicher auslesen"},
		RepairSteps:      []string{"Katalysator ersetzen"},
		ToolsRequired:    []string{"OBD2-Scanner"},
		Keywords:         []string{code, "katalysator"},
		SourceURLs:       []string{"https://example.com/" + code},
		DifficultyLevel:  "medium",
		OriginalLanguage: "de",
		QualityScore:     0.9,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	entry := testEntry("P0420")
	emb := map[string][]float32{"de": make([]float32, 1536), "en": make([]float32, 1536)}
	emb["de"][0], emb["en"][0] = 1, 1

	if err := store.Upsert(ctx, entry, emb); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.FindByCode(ctx, "P0420")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if got.Topic != entry.Topic {
		t.Errorf("Topic = %q", got.Topic)
	}
	if got.Title("en") != entry.Titles["en"] {
		t.Errorf("Title(en) = %q", got.Title("en"))
	}
	if len(got.Causes) != 2 {
		t.Errorf("Causes = %v", got.Causes)
	}
	if got.QualityScore != 0.9 {
		t.Errorf("QualityScore = %v", got.QualityScore)
	}
	if len(got.GuidesFor("de")) != 0 {
		t.Errorf("fresh entry has guides: %v", got.GuidesFor("de"))
	}
}

func TestStoreFindByCodeMiss(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())
	if _, err := store.FindByCode(context.Background(), "P9999"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreUpsertKeepsGuides(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	entry := testEntry("P0171")
	if err := store.Upsert(ctx, entry, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	guide := knowledge.RepairGuide{
		CauseTitle:      "Undichtigkeit im Ansaugtrakt",
		DifficultyLevel: "easy",
		Steps:           []knowledge.GuideStep{{Step: 1, Title: "Sichtprüfung", Description: "Schläuche prüfen", DurationMinutes: 15}},
	}
	if err := store.PutGuide(ctx, entry.Topic, "de", "undichtigkeit_im_ansaugtrakt", guide); err != nil {
		t.Fatalf("PutGuide: %v", err)
	}

	// A refresh upsert must not clobber stored guides.
	entry.Contents["de"] = "Aktualisierter Inhalt."
	if err := store.Upsert(ctx, entry, nil); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	guides, err := store.Guides(ctx, entry.Topic, "de")
	if err != nil {
		t.Fatalf("Guides: %v", err)
	}
	if len(guides) != 1 {
		t.Fatalf("guides = %v", guides)
	}
	if guides["undichtigkeit_im_ansaugtrakt"].CauseTitle != guide.CauseTitle {
		t.Errorf("guide lost after upsert")
	}

	got, err := store.GetByTopic(ctx, entry.Topic, knowledge.CategoryErrorCode)
	if err != nil {
		t.Fatalf("GetByTopic: %v", err)
	}
	if got.Content("de") != "Aktualisierter Inhalt." {
		t.Errorf("content not refreshed: %q", got.Content("de"))
	}
}

func TestStoreUpsertKeepsEnglishOnPartialRefresh(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	entry := testEntry("P0401")
	if err := store.Upsert(ctx, entry, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A refresh whose translation failed carries German only.
	refresh := testEntry("P0401")
	refresh.Titles = map[string]string{"de": "P0401 Abgasrueckfuehrung"}
	refresh.Contents = map[string]string{"de": "Aktualisierter Inhalt."}
	refresh.SymptomsEN = nil
	refresh.CausesEN = nil
	if err := store.Upsert(ctx, refresh, nil); err != nil {
		t.Fatalf("refresh Upsert: %v", err)
	}

	got, err := store.GetByTopic(ctx, entry.Topic, knowledge.CategoryErrorCode)
	if err != nil {
		t.Fatalf("GetByTopic: %v", err)
	}
	if got.Content("de") != "Aktualisierter Inhalt." {
		t.Errorf("de content not refreshed: %q", got.Content("de"))
	}
	if got.Titles["en"] != entry.Titles["en"] {
		t.Errorf("en title lost: %q", got.Titles["en"])
	}
	if got.Contents["en"] != entry.Contents["en"] {
		t.Errorf("en content lost: %q", got.Contents["en"])
	}
	if len(got.SymptomsEN) != 1 || len(got.CausesEN) != 2 {
		t.Errorf("en arrays lost: symptoms=%v causes=%v", got.SymptomsEN, got.CausesEN)
	}
}

func TestStorePutGuideMerges(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	entry := testEntry("P0300")
	if err := store.Upsert(ctx, entry, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	for _, key := range []string{"zuendkerzen_verschlissen", "zuendspule_defekt"} {
		g := knowledge.RepairGuide{CauseTitle: key, DifficultyLevel: "medium"}
		if err := store.PutGuide(ctx, entry.Topic, "de", key, g); err != nil {
			t.Fatalf("PutGuide(%s): %v", key, err)
		}
	}

	guides, err := store.Guides(ctx, entry.Topic, "de")
	if err != nil {
		t.Fatalf("Guides: %v", err)
	}
	if len(guides) != 2 {
		t.Errorf("guides = %d, want 2 (merge, not replace)", len(guides))
	}
}

func TestStorePutGuideUnknownTopic(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())
	err := store.PutGuide(context.Background(), "missing topic", "de", "k", knowledge.RepairGuide{})
	if !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreVehicleData(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	entry := testEntry("P0420")
	if err := store.Upsert(ctx, entry, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	data := knowledge.VehicleData{
		Issues:           []string{"Katalysator altert früh"},
		MostLikelyCause:  "Defekter Katalysator",
		TypicalMileageKM: 150000,
		CostEstimateEUR:  "400-900",
	}
	if err := store.SetVehicleData(ctx, entry.Topic, "vw_golf_7", data); err != nil {
		t.Fatalf("SetVehicleData: %v", err)
	}

	got, err := store.GetByTopic(ctx, entry.Topic, knowledge.CategoryErrorCode)
	if err != nil {
		t.Fatalf("GetByTopic: %v", err)
	}
	vd, ok := got.VehicleSpecific["vw_golf_7"]
	if !ok {
		t.Fatalf("vehicle data missing: %v", got.VehicleSpecific)
	}
	if vd.TypicalMileageKM != 150000 || vd.MostLikelyCause != data.MostLikelyCause {
		t.Errorf("vehicle data = %+v", vd)
	}
}

func TestStoreSearchSimilar(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	near := make([]float32, 1536)
	far := make([]float32, 1536)
	near[0], far[1] = 1, 1

	a := testEntry("P0420")
	b := testEntry("P0171")
	if err := store.Upsert(ctx, a, map[string][]float32{"de": near}); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := store.Upsert(ctx, b, map[string][]float32{"de": far}); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}

	query := make([]float32, 1536)
	query[0] = 1
	hits, err := store.SearchSimilar(ctx, "de", query, 2)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d", len(hits))
	}
	if hits[0].Topic != a.Topic {
		t.Errorf("closest = %q, want %q", hits[0].Topic, a.Topic)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Errorf("results not ordered by similarity: %v", hits)
	}
}

func TestStoreTopicsMissingGuides(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	withGuides := testEntry("P0420")
	without := testEntry("P0171")
	if err := store.Upsert(ctx, withGuides, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert(ctx, without, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.PutGuide(ctx, withGuides.Topic, "de", "defekter_katalysator", knowledge.RepairGuide{CauseTitle: "Defekter Katalysator"}); err != nil {
		t.Fatalf("PutGuide: %v", err)
	}

	topics, err := store.TopicsMissingGuides(ctx, 10)
	if err != nil {
		t.Fatalf("TopicsMissingGuides: %v", err)
	}
	if len(topics) != 1 || topics[0] != without.Topic {
		t.Errorf("topics = %v", topics)
	}
}

func TestStoreExistsAndInsert(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := knowledge.NewStore(tc.Pool, testutil.QuietLogger())

	exists, err := store.ExistsByTopic(ctx, "Zahnriemen wechseln Intervall")
	if err != nil {
		t.Fatalf("ExistsByTopic: %v", err)
	}
	if exists {
		t.Fatal("topic should not exist yet")
	}

	e := testEntry("P0101")
	e.Topic = "Zahnriemen wechseln Intervall"
	e.Category = "wartung"
	if err := store.Insert(ctx, e, nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	exists, err = store.ExistsByTopic(ctx, e.Topic)
	if err != nil {
		t.Fatalf("ExistsByTopic: %v", err)
	}
	if !exists {
		t.Error("topic should exist after insert")
	}
}

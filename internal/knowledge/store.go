package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fixwise/fixwise/internal/log"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("knowledge entry not found")

// querier abstracts pool and transaction so store methods run on either.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists knowledge entries.
type Store struct {
	db     querier
	logger log.Logger
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{db: pool, logger: logger.With("component", "knowledge.store")}
}

const knowledgeCols = `id, topic, category, subcategory,
	title_de, title_en, title_fr, title_es,
	content_de, content_en, content_fr, content_es,
	symptoms, symptoms_en, causes, causes_en,
	diagnostic_steps, repair_steps, tools_required, keywords, source_urls,
	estimated_cost_eur, difficulty_level, original_language, quality_score,
	vehicle_specific, repair_guides_de, repair_guides_en, repair_guides_fr, repair_guides_es,
	created_at, updated_at`

const findByCodeSQL = `
	SELECT ` + knowledgeCols + `
	FROM automotive_knowledge
	WHERE category = $1 AND ($2 = ANY(keywords) OR topic ILIKE $3)
	ORDER BY quality_score DESC
	LIMIT 1`

// FindByCode looks up the error-code entry for a trouble code, matching
// either the keyword list or the topic prefix.
func (s *Store) FindByCode(ctx context.Context, code string) (*Entry, error) {
	row := s.db.QueryRow(ctx, findByCodeSQL, CategoryErrorCode, code, code+"%")
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find by code: %w", err)
	}
	return entry, nil
}

const getByTopicSQL = `
	SELECT ` + knowledgeCols + `
	FROM automotive_knowledge
	WHERE topic = $1 AND category = $2`

// GetByTopic fetches the entry with the exact natural key.
func (s *Store) GetByTopic(ctx context.Context, topic, category string) (*Entry, error) {
	row := s.db.QueryRow(ctx, getByTopicSQL, topic, category)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get by topic: %w", err)
	}
	return entry, nil
}

const existsByTopicSQL = `
	SELECT EXISTS (SELECT 1 FROM automotive_knowledge WHERE topic = $1)`

// ExistsByTopic reports whether any entry carries the exact topic.
func (s *Store) ExistsByTopic(ctx context.Context, topic string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, existsByTopicSQL, topic).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists by topic: %w", err)
	}
	return exists, nil
}

const upsertSQL = `
	INSERT INTO automotive_knowledge (
		topic, category, subcategory,
		title_de, title_en, title_fr, title_es,
		content_de, content_en, content_fr, content_es,
		symptoms, symptoms_en, causes, causes_en,
		diagnostic_steps, repair_steps, tools_required, keywords, source_urls,
		estimated_cost_eur, difficulty_level, original_language, quality_score,
		embedding_de, embedding_en, embedding_fr, embedding_es
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
	)
	ON CONFLICT (topic, category) DO UPDATE SET
		subcategory = EXCLUDED.subcategory,
		title_de = EXCLUDED.title_de,
		title_en = COALESCE(EXCLUDED.title_en, automotive_knowledge.title_en),
		title_fr = COALESCE(EXCLUDED.title_fr, automotive_knowledge.title_fr),
		title_es = COALESCE(EXCLUDED.title_es, automotive_knowledge.title_es),
		content_de = EXCLUDED.content_de,
		content_en = COALESCE(EXCLUDED.content_en, automotive_knowledge.content_en),
		content_fr = COALESCE(EXCLUDED.content_fr, automotive_knowledge.content_fr),
		content_es = COALESCE(EXCLUDED.content_es, automotive_knowledge.content_es),
		symptoms = EXCLUDED.symptoms,
		symptoms_en = COALESCE(NULLIF(EXCLUDED.symptoms_en, '{}'::text[]), automotive_knowledge.symptoms_en),
		causes = EXCLUDED.causes,
		causes_en = COALESCE(NULLIF(EXCLUDED.causes_en, '{}'::text[]), automotive_knowledge.causes_en),
		diagnostic_steps = EXCLUDED.diagnostic_steps,
		repair_steps = EXCLUDED.repair_steps,
		tools_required = EXCLUDED.tools_required,
		keywords = EXCLUDED.keywords,
		source_urls = EXCLUDED.source_urls,
		estimated_cost_eur = EXCLUDED.estimated_cost_eur,
		difficulty_level = EXCLUDED.difficulty_level,
		original_language = EXCLUDED.original_language,
		quality_score = EXCLUDED.quality_score,
		embedding_de = COALESCE(EXCLUDED.embedding_de, automotive_knowledge.embedding_de),
		embedding_en = COALESCE(EXCLUDED.embedding_en, automotive_knowledge.embedding_en),
		embedding_fr = COALESCE(EXCLUDED.embedding_fr, automotive_knowledge.embedding_fr),
		embedding_es = COALESCE(EXCLUDED.embedding_es, automotive_knowledge.embedding_es),
		updated_at = now()`

// Upsert writes an entry by natural key. Repair guide and vehicle data
// columns are never touched here, so a refresh cannot wipe guides.
// Translated fields and embeddings only overwrite when the new entry
// carries them; a refresh whose translation failed keeps the stored
// English content.
func (s *Store) Upsert(ctx context.Context, e *Entry, embeddings map[string][]float32) error {
	_, err := s.db.Exec(ctx, upsertSQL, entryArgs(e, embeddings)...)
	if err != nil {
		return fmt.Errorf("upsert knowledge entry: %w", err)
	}
	s.logger.Debug("entry upserted", "topic", e.Topic, "category", e.Category)
	return nil
}

const insertSQL = `
	INSERT INTO automotive_knowledge (
		topic, category, subcategory,
		title_de, title_en, title_fr, title_es,
		content_de, content_en, content_fr, content_es,
		symptoms, symptoms_en, causes, causes_en,
		diagnostic_steps, repair_steps, tools_required, keywords, source_urls,
		estimated_cost_eur, difficulty_level, original_language, quality_score,
		embedding_de, embedding_en, embedding_fr, embedding_es
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
	)`

// Insert writes a brand-new entry. The harvester uses this after its
// own duplicate check; a natural-key collision is an error here.
func (s *Store) Insert(ctx context.Context, e *Entry, embeddings map[string][]float32) error {
	_, err := s.db.Exec(ctx, insertSQL, entryArgs(e, embeddings)...)
	if err != nil {
		return fmt.Errorf("insert knowledge entry: %w", err)
	}
	return nil
}

// Guides returns the guide map for one language of an entry.
func (s *Store) Guides(ctx context.Context, topic, lang string) (map[string]RepairGuide, error) {
	col, err := guideColumn(lang)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(
		`SELECT %s FROM automotive_knowledge WHERE topic = $1 AND category = $2`, col)

	var raw []byte
	if err := s.db.QueryRow(ctx, sql, topic, CategoryErrorCode).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load guides: %w", err)
	}

	guides := make(map[string]RepairGuide)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &guides); err != nil {
			return nil, fmt.Errorf("decode guides: %w", err)
		}
	}
	return guides, nil
}

// PutGuide merges one guide under its cause key into the language's
// guide map. The jsonb concatenation keeps the write atomic, so two
// concurrent fills for different causes cannot lose each other.
func (s *Store) PutGuide(ctx context.Context, topic, lang, causeKey string, guide RepairGuide) error {
	col, err := guideColumn(lang)
	if err != nil {
		return err
	}
	patch, err := json.Marshal(map[string]RepairGuide{causeKey: guide})
	if err != nil {
		return fmt.Errorf("encode guide: %w", err)
	}

	sql := fmt.Sprintf(`
		UPDATE automotive_knowledge
		SET %s = %s || $3::jsonb, updated_at = now()
		WHERE topic = $1 AND category = $2`, col, col)

	tag, err := s.db.Exec(ctx, sql, topic, CategoryErrorCode, patch)
	if err != nil {
		return fmt.Errorf("store guide: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("guide stored", "topic", topic, "lang", lang, "cause", causeKey)
	return nil
}

const setVehicleDataSQL = `
	UPDATE automotive_knowledge
	SET vehicle_specific = vehicle_specific || $3::jsonb, updated_at = now()
	WHERE topic = $1 AND category = $2`

// SetVehicleData merges vehicle-specific data under its vehicle key.
func (s *Store) SetVehicleData(ctx context.Context, topic, vehicleKey string, data VehicleData) error {
	patch, err := json.Marshal(map[string]VehicleData{vehicleKey: data})
	if err != nil {
		return fmt.Errorf("encode vehicle data: %w", err)
	}
	tag, err := s.db.Exec(ctx, setVehicleDataSQL, topic, CategoryErrorCode, patch)
	if err != nil {
		return fmt.Errorf("store vehicle data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchSimilar returns the topK entries closest to embedding in the
// given language by cosine distance.
func (s *Store) SearchSimilar(ctx context.Context, lang string, embedding []float32, topK int) ([]SearchHit, error) {
	embCol, err := embeddingColumn(lang)
	if err != nil {
		return nil, err
	}
	titleCol, contentCol := "title_"+lang, "content_"+lang

	sql := fmt.Sprintf(`
		SELECT topic, COALESCE(%s, title_de), COALESCE(%s, content_de),
			1 - (%s <=> $1) AS similarity
		FROM automotive_knowledge
		WHERE %s IS NOT NULL
		ORDER BY %s <=> $1
		LIMIT $2`, titleCol, contentCol, embCol, embCol, embCol)

	rows, err := s.db.Query(ctx, sql, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Topic, &h.Title, &h.Content, &h.Similarity); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

const missingGuidesSQL = `
	SELECT topic FROM automotive_knowledge
	WHERE category = $1
		AND array_length(causes, 1) > 0
		AND repair_guides_de = '{}'::jsonb
	ORDER BY quality_score DESC
	LIMIT $2`

// TopicsMissingGuides lists error-code topics that have causes but no
// German guides yet.
func (s *Store) TopicsMissingGuides(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, missingGuidesSQL, CategoryErrorCode, limit)
	if err != nil {
		return nil, fmt.Errorf("list topics missing guides: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

const topicsWithGuidesSQL = `
	SELECT topic FROM automotive_knowledge
	WHERE category = $1
		AND (repair_guides_de <> '{}'::jsonb OR repair_guides_en <> '{}'::jsonb)
	ORDER BY updated_at DESC
	LIMIT $2`

// TopicsWithGuides lists error-code topics that carry at least one
// German or English guide, newest first.
func (s *Store) TopicsWithGuides(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, topicsWithGuidesSQL, CategoryErrorCode, limit)
	if err != nil {
		return nil, fmt.Errorf("list topics with guides: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func guideColumn(lang string) (string, error) {
	switch lang {
	case "de", "en", "fr", "es":
		return "repair_guides_" + lang, nil
	}
	return "", fmt.Errorf("unsupported language %q", lang)
}

func embeddingColumn(lang string) (string, error) {
	switch lang {
	case "de", "en", "fr", "es":
		return "embedding_" + lang, nil
	}
	return "", fmt.Errorf("unsupported language %q", lang)
}

func entryArgs(e *Entry, embeddings map[string][]float32) []any {
	return []any{
		e.Topic, e.Category, nullable(e.Subcategory),
		nullable(e.Titles["de"]), nullable(e.Titles["en"]),
		nullable(e.Titles["fr"]), nullable(e.Titles["es"]),
		nullable(e.Contents["de"]), nullable(e.Contents["en"]),
		nullable(e.Contents["fr"]), nullable(e.Contents["es"]),
		orEmpty(e.Symptoms), orEmpty(e.SymptomsEN),
		orEmpty(e.Causes), orEmpty(e.CausesEN),
		orEmpty(e.DiagnosticSteps), orEmpty(e.RepairSteps),
		orEmpty(e.ToolsRequired), orEmpty(e.Keywords), orEmpty(e.SourceURLs),
		e.EstimatedCostEUR, e.DifficultyLevel, e.OriginalLanguage, e.QualityScore,
		vectorArg(embeddings, "de"), vectorArg(embeddings, "en"),
		vectorArg(embeddings, "fr"), vectorArg(embeddings, "es"),
	}
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                                  Entry
		subcategory                        *string
		titleDE, titleEN, titleFR, titleES *string
		contDE, contEN, contFR, contES     *string
		vehicleRaw                         []byte
		guidesDE, guidesEN                 []byte
		guidesFR, guidesES                 []byte
	)

	err := row.Scan(
		&e.ID, &e.Topic, &e.Category, &subcategory,
		&titleDE, &titleEN, &titleFR, &titleES,
		&contDE, &contEN, &contFR, &contES,
		&e.Symptoms, &e.SymptomsEN, &e.Causes, &e.CausesEN,
		&e.DiagnosticSteps, &e.RepairSteps, &e.ToolsRequired, &e.Keywords, &e.SourceURLs,
		&e.EstimatedCostEUR, &e.DifficultyLevel, &e.OriginalLanguage, &e.QualityScore,
		&vehicleRaw, &guidesDE, &guidesEN, &guidesFR, &guidesES,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if subcategory != nil {
		e.Subcategory = *subcategory
	}
	e.Titles = langMap(titleDE, titleEN, titleFR, titleES)
	e.Contents = langMap(contDE, contEN, contFR, contES)

	e.VehicleSpecific = make(map[string]VehicleData)
	if len(vehicleRaw) > 0 {
		if err := json.Unmarshal(vehicleRaw, &e.VehicleSpecific); err != nil {
			return nil, fmt.Errorf("decode vehicle data: %w", err)
		}
	}

	e.Guides = make(map[string]map[string]RepairGuide, 4)
	for lang, raw := range map[string][]byte{"de": guidesDE, "en": guidesEN, "fr": guidesFR, "es": guidesES} {
		m := make(map[string]RepairGuide)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, fmt.Errorf("decode %s guides: %w", lang, err)
			}
		}
		e.Guides[lang] = m
	}
	return &e, nil
}

func langMap(de, en, fr, es *string) map[string]string {
	m := make(map[string]string, 4)
	for lang, v := range map[string]*string{"de": de, "en": en, "fr": fr, "es": es} {
		if v != nil {
			m[lang] = *v
		}
	}
	return m
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func vectorArg(embeddings map[string][]float32, lang string) any {
	if vec, ok := embeddings[lang]; ok && len(vec) > 0 {
		return pgvector.NewVector(vec)
	}
	return nil
}

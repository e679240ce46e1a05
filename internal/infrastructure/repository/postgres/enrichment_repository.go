package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/notegen/internal/core/domain"
)

type EnrichmentRepository struct {
	db *sql.DB
}

func NewEnrichmentRepository(db *sql.DB) *EnrichmentRepository {
	return &EnrichmentRepository{db: db}
}

// A repeat from the same note (reprocess, retried run) only refreshes the
// row; error_count counts distinct notes.
const upsertWeakConceptSQL = `
INSERT INTO weak_concepts (id, user_id, subject, unit, concept, error_reason, error_count, last_note_id, first_seen_at, last_seen_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (user_id, subject, unit, concept) DO UPDATE
SET error_count = weak_concepts.error_count +
		CASE WHEN weak_concepts.last_note_id IS DISTINCT FROM EXCLUDED.last_note_id THEN 1 ELSE 0 END,
	error_reason = COALESCE(EXCLUDED.error_reason, weak_concepts.error_reason),
	last_note_id = EXCLUDED.last_note_id,
	last_seen_at = EXCLUDED.last_seen_at
`

// UpsertWeakConcepts inserts new concepts and bumps error_count for
// concepts the user already got wrong in an earlier note.
func (r *EnrichmentRepository) UpsertWeakConcepts(ctx context.Context, concepts []domain.WeakConcept) error {
	if len(concepts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin weak concepts tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range concepts {
		_, err := tx.ExecContext(ctx, upsertWeakConceptSQL,
			c.ID, c.UserID, string(c.Subject), c.Unit, c.Concept, nullString(c.ErrorReason),
			c.ErrorCount, nullString(c.LastNoteID), c.FirstSeenAt, c.LastSeenAt,
		)
		if err != nil {
			return fmt.Errorf("upsert weak concept %q: %w", c.Concept, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit weak concepts tx: %w", err)
	}
	return nil
}

// SaveConceptCards replaces the cards of a note.
func (r *EnrichmentRepository) SaveConceptCards(ctx context.Context, noteID string, cards []domain.ConceptCard) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin concept cards tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM concept_cards WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete concept cards: %w", err)
	}

	for _, card := range cards {
		content, mistakes, spans, err := marshalCardJSON(card)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO concept_cards (id, note_id, user_id, card_type, title, subject, unit_name, content, common_mistakes, evidence_spans, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
			card.ID, noteID, nullString(card.UserID), string(card.CardType), card.Title,
			nullString(string(card.Subject)), nullString(card.UnitName), content, mistakes, spans, card.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert concept card %q: %w", card.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit concept cards tx: %w", err)
	}
	return nil
}

func marshalCardJSON(card domain.ConceptCard) (content, mistakes, spans []byte, err error) {
	body := card.Content
	if body == nil {
		body = map[string]any{}
	}
	if content, err = json.Marshal(body); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal card content: %w", err)
	}
	if mistakes, err = json.Marshal(orEmpty(card.CommonMistakes)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal common mistakes: %w", err)
	}
	if spans, err = json.Marshal(orEmpty(card.EvidenceSpans)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal evidence spans: %w", err)
	}
	return content, mistakes, spans, nil
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
)

type NoteRepository struct {
	db *sql.DB
}

func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

const noteColumns = `id, user_id, user_plan, title, image_paths, status, organize_method, ocr_text, ocr_blocks,
	detected_subject, detected_note_type, detected_unit, organized_content, error_message, progress_message,
	checkpoint, version, created_at, updated_at`

func (r *NoteRepository) Create(ctx context.Context, note *domain.Note) error {
	imagePaths, blocks, checkpoint, err := marshalNoteJSON(note)
	if err != nil {
		return err
	}
	if note.Version == 0 {
		note.Version = 1
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO notes (`+noteColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`,
		note.ID, nullString(note.UserID), string(note.UserPlan), note.Title, imagePaths, string(note.Status),
		string(note.OrganizeMethod), nullString(note.OCRText), blocks,
		nullString(string(note.DetectedSubject)), nullString(string(note.DetectedNoteType)), nullString(note.DetectedUnit),
		nullString(note.OrganizedContent), nullString(note.ErrorMessage), nullString(note.ProgressMessage),
		checkpoint, note.Version, note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (r *NoteRepository) GetByID(ctx context.Context, id string) (*domain.Note, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE id = $1
`, id)

	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNoteNotFound, "get note", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan note: %w", err)
	}
	return note, nil
}

// Update writes the full note when the stored version still matches
// note.Version, then bumps note.Version.
func (r *NoteRepository) Update(ctx context.Context, note *domain.Note) error {
	imagePaths, blocks, checkpoint, err := marshalNoteJSON(note)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
UPDATE notes
SET title = $3, image_paths = $4, status = $5, organize_method = $6, ocr_text = $7, ocr_blocks = $8,
	detected_subject = $9, detected_note_type = $10, detected_unit = $11, organized_content = $12,
	error_message = $13, progress_message = $14, checkpoint = $15, version = version + 1, updated_at = $16
WHERE id = $1 AND version = $2
`,
		note.ID, note.Version, note.Title, imagePaths, string(note.Status), string(note.OrganizeMethod),
		nullString(note.OCRText), blocks,
		nullString(string(note.DetectedSubject)), nullString(string(note.DetectedNoteType)), nullString(note.DetectedUnit),
		nullString(note.OrganizedContent), nullString(note.ErrorMessage), nullString(note.ProgressMessage),
		checkpoint, now,
	)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update note rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, note)
	}

	note.Version++
	note.UpdatedAt = now
	return nil
}

func (r *NoteRepository) missOrConflict(ctx context.Context, note *domain.Note) error {
	var stored int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM notes WHERE id = $1`, note.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNoteNotFound, "update note", fmt.Errorf("id=%s", note.ID))
	}
	if err != nil {
		return fmt.Errorf("check note version: %w", err)
	}
	return domain.WrapError(domain.ErrConflict, "update note",
		fmt.Errorf("id=%s expected version %d, stored %d", note.ID, note.Version, stored))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var (
		note                                   domain.Note
		userID, ocrText, subject, noteType     sql.NullString
		unit, content, errMessage, progressMsg sql.NullString
		plan, status, method                   string
		imagePaths, blocks, checkpoint         []byte
	)
	err := row.Scan(
		&note.ID, &userID, &plan, &note.Title, &imagePaths, &status, &method, &ocrText, &blocks,
		&subject, &noteType, &unit, &content, &errMessage, &progressMsg,
		&checkpoint, &note.Version, &note.CreatedAt, &note.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	note.UserID = userID.String
	note.UserPlan = domain.ParseUserPlan(plan)
	note.Status = domain.NoteStatus(status)
	note.OrganizeMethod = domain.OrganizeMethod(method)
	note.OCRText = ocrText.String
	note.DetectedSubject = domain.Subject(subject.String)
	note.DetectedNoteType = domain.NoteType(noteType.String)
	note.DetectedUnit = unit.String
	note.OrganizedContent = content.String
	note.ErrorMessage = errMessage.String
	note.ProgressMessage = progressMsg.String

	if len(imagePaths) > 0 {
		if err := json.Unmarshal(imagePaths, &note.ImagePaths); err != nil {
			return nil, fmt.Errorf("unmarshal image paths: %w", err)
		}
	}
	if len(blocks) > 0 {
		if err := json.Unmarshal(blocks, &note.OCRBlocks); err != nil {
			return nil, fmt.Errorf("unmarshal ocr blocks: %w", err)
		}
	}
	if len(checkpoint) > 0 {
		var cp domain.ClassificationCheckpoint
		if err := json.Unmarshal(checkpoint, &cp); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		if cp.SchemaVersion != domain.CheckpointSchemaVersion {
			return nil, fmt.Errorf("unsupported checkpoint schema version %d", cp.SchemaVersion)
		}
		note.Checkpoint = &cp
	}
	return &note, nil
}

// marshalNoteJSON returns nil for absent blocks and checkpoint so they are
// stored as SQL NULL.
func marshalNoteJSON(note *domain.Note) (imagePaths []byte, blocks, checkpoint any, err error) {
	paths := note.ImagePaths
	if paths == nil {
		paths = []string{}
	}
	imagePaths, err = json.Marshal(paths)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal image paths: %w", err)
	}
	if len(note.OCRBlocks) > 0 {
		raw, err := json.Marshal(note.OCRBlocks)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal ocr blocks: %w", err)
		}
		blocks = raw
	}
	if note.Checkpoint != nil {
		raw, err := json.Marshal(note.Checkpoint)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal checkpoint: %w", err)
		}
		checkpoint = raw
	}
	return imagePaths, blocks, checkpoint, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

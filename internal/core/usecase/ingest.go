package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

const DefaultMaxImages = 3

var allowedImageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

type IngestNoteUseCase struct {
	repo      ports.NoteRepository
	storage   ports.ObjectStorage
	maxImages int
}

func NewIngestNoteUseCase(repo ports.NoteRepository, storage ports.ObjectStorage, maxImages int) *IngestNoteUseCase {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	return &IngestNoteUseCase{
		repo:      repo,
		storage:   storage,
		maxImages: maxImages,
	}
}

func (uc *IngestNoteUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.Note, error) {
	if err := uc.validate(req); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	paths := make([]string, 0, len(req.Images))
	for i, img := range req.Images {
		key := fmt.Sprintf("%s/%d_%s", id, i, sanitizeFilename(img.Filename))
		if err := uc.storage.Save(ctx, key, img.Body); err != nil {
			return nil, fmt.Errorf("save image to object storage: %w", err)
		}
		paths = append(paths, key)
	}

	method := req.OrganizeMethod
	if method == "" {
		method = domain.MethodAuto
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "note " + now.Format("2006-01-02 15:04")
	}

	note := &domain.Note{
		ID:             id,
		UserID:         req.UserID,
		UserPlan:       req.UserPlan,
		Title:          title,
		ImagePaths:     paths,
		Status:         domain.StatusUploading,
		OrganizeMethod: method,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if note.UserPlan == "" {
		note.UserPlan = domain.PlanFree
	}

	if err := uc.repo.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("create note metadata: %w", err)
	}
	return note, nil
}

func (uc *IngestNoteUseCase) validate(req ports.UploadRequest) error {
	if len(req.Images) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "upload note", errors.New("at least one image is required"))
	}
	if len(req.Images) > uc.maxImages {
		return domain.WrapError(domain.ErrInvalidInput, "upload note",
			fmt.Errorf("at most %d images are allowed, got %d", uc.maxImages, len(req.Images)))
	}
	for _, img := range req.Images {
		ext := strings.ToLower(filepath.Ext(img.Filename))
		if _, ok := allowedImageExtensions[ext]; !ok {
			return domain.WrapError(domain.ErrInvalidInput, "upload note",
				fmt.Errorf("unsupported image type %q", img.Filename))
		}
	}
	if _, ok := domain.ParseOrganizeMethod(string(req.OrganizeMethod)); !ok {
		return domain.WrapError(domain.ErrInvalidInput, "upload note",
			fmt.Errorf("unknown organize method %q", req.OrganizeMethod))
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "image.bin"
	}
	return base
}

package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/layout"
	"github.com/kirillkom/notegen/internal/core/ports"
)

const (
	mathClassification  = `{"subject":"math","note_type":"general","unit":"미분","structure":"title and one section"}`
	errorClassification = `{"subject":"math","note_type":"error_note","unit":"방정식","structure":"problem and wrong answer"}`
)

type pipelineFixture struct {
	repo     *noteRepoFake
	storage  *storageFake
	ocr      *ocrFake
	llm      *llmFake
	enrich   *enrichmentRepoFake
	observer *observerFake
	uc       *PipelineUseCase
}

func sampleNote() *domain.Note {
	return &domain.Note{
		ID:             "note-1",
		UserID:         "user-1",
		UserPlan:       domain.PlanFree,
		Title:          "수학",
		ImagePaths:     []string{"note-1/0_page.jpg"},
		Status:         domain.StatusUploading,
		OrganizeMethod: domain.MethodAuto,
	}
}

func samplePage() domain.OCRPage {
	return domain.OCRPage{
		Width:  1000,
		Height: 1000,
		Words: []domain.Word{
			{Text: "수학", X: 10, Y: 4, W: 30, H: 12, Confidence: 0.9},
			{Text: "시험", X: 50, Y: 5, W: 30, H: 12, Confidence: 0.8},
			{Text: "범위", X: 10, Y: 194, W: 30, H: 12, Confidence: 0.95},
		},
	}
}

func defaultReplies() map[string]llmReply {
	return map[string]llmReply{
		PromptRefine:       {text: "수학 시험\n범위"},
		PromptClassify:     {text: mathClassification},
		"summary.*":        {text: "# 수학 시험 범위 정리"},
		PromptConceptCards: {text: `{"cards":[{"card_type":"formula","title":"미분 공식","content":{"formula":"(x^2)' = 2x"}}]}`},
	}
}

func newPipelineFixture(note *domain.Note, replies map[string]llmReply, cfg PipelineConfig) *pipelineFixture {
	f := &pipelineFixture{
		repo:     newNoteRepoFake(note),
		storage:  newStorageFake(),
		ocr:      &ocrFake{pages: map[string]domain.OCRPage{"img-0": samplePage()}},
		llm:      newLLMFake(replies),
		enrich:   &enrichmentRepoFake{},
		observer: &observerFake{},
	}
	f.storage.objects["note-1/0_page.jpg"] = []byte("img-0")

	prompts := &promptStoreFake{}
	classifier := NewClassificationStage(f.llm, prompts, decoderFake{}, ClassificationConfig{CallTimeout: cfg.CallTimeout}, nil)
	generator := NewGenerationStage(f.llm, prompts, GenerationConfig{CallTimeout: cfg.CallTimeout}, nil)
	extractor := NewExtractionStage(f.llm, prompts, decoderFake{}, f.enrich, f.observer, ExtractionConfig{CallTimeout: cfg.CallTimeout}, nil)
	f.uc = NewPipelineUseCase(
		f.repo,
		f.storage,
		f.ocr,
		layout.NewClusterer(layout.Options{}),
		classifier,
		generator,
		extractor,
		newLockerFake(),
		f.observer,
		cfg,
		nil,
	)
	return f
}

func assertStatuses(t *testing.T, got []domain.NoteStatus, want ...domain.NoteStatus) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, got)
		}
	}
}

func TestProcessCompletesEndToEnd(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{ConfirmationEnabled: true})

	res, err := f.uc.Process(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.OrganizedContent != "# 수학 시험 범위 정리" {
		t.Fatalf("unexpected organized content: %q", res.OrganizedContent)
	}
	if res.ErrorMessage != "" {
		t.Fatalf("expected no error message, got %q", res.ErrorMessage)
	}

	assertStatuses(t, f.repo.statuses, domain.StatusOCRProcessing, domain.StatusAIOrganizing, domain.StatusCompleted)

	stored := f.repo.stored("note-1")
	if stored.OCRText != "수학 시험\n범위" {
		t.Fatalf("unexpected ocr text: %q", stored.OCRText)
	}
	if len(stored.OCRBlocks) != 2 || stored.OCRBlocks[0].ID != "b0" || stored.OCRBlocks[1].ID != "b1" {
		t.Fatalf("unexpected blocks: %+v", stored.OCRBlocks)
	}
	if stored.DetectedSubject != domain.SubjectMath || stored.DetectedNoteType != domain.NoteTypeGeneral {
		t.Fatalf("unexpected detection: %s/%s", stored.DetectedSubject, stored.DetectedNoteType)
	}
	if stored.DetectedUnit != "미분" {
		t.Fatalf("unexpected unit: %q", stored.DetectedUnit)
	}
	if stored.Checkpoint != nil {
		t.Fatalf("expected checkpoint to be cleared")
	}
	if f.llm.calls("summary.math") != 1 {
		t.Fatalf("expected math summary strategy, calls: %v", f.llm.systems())
	}
	if len(f.enrich.cards) != 1 || f.enrich.cards[0].CardType != domain.CardFormula {
		t.Fatalf("expected one formula card, got %+v", f.enrich.cards)
	}
	if f.llm.calls(PromptWeakConcepts) != 0 {
		t.Fatalf("weak concepts must not run for a general note on the free plan")
	}
}

func TestProcessRejectsInvalidState(t *testing.T) {
	for _, status := range []domain.NoteStatus{
		domain.StatusOCRProcessing,
		domain.StatusAIOrganizing,
		domain.StatusConfirmationNeeded,
		domain.StatusCompleted,
	} {
		t.Run(string(status), func(t *testing.T) {
			note := sampleNote()
			note.Status = status
			f := newPipelineFixture(note, defaultReplies(), PipelineConfig{})

			_, err := f.uc.Process(context.Background(), "note-1")
			if !domain.IsKind(err, domain.ErrInvalidState) {
				t.Fatalf("expected invalid state, got %v", err)
			}
			if len(f.repo.statuses) != 0 {
				t.Fatalf("expected no state change, got %v", f.repo.statuses)
			}
			if f.repo.stored("note-1").Status != status {
				t.Fatalf("status must stay %s", status)
			}
		})
	}
}

func TestProcessRetriesFailedNote(t *testing.T) {
	note := sampleNote()
	note.Status = domain.StatusFailed
	note.ErrorMessage = "previous failure"
	f := newPipelineFixture(note, defaultReplies(), PipelineConfig{})

	res, err := f.uc.Process(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if f.repo.stored("note-1").ErrorMessage != "" {
		t.Fatalf("expected error message to be cleared")
	}
}

func TestProcessNotFound(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})

	_, err := f.uc.Process(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessFallsBackOnInvalidClassification(t *testing.T) {
	replies := defaultReplies()
	replies[PromptClassify] = llmReply{text: "this is math, probably"}
	replies[string(StrategyBasicSummary)] = llmReply{text: "basic summary"}
	f := newPipelineFixture(sampleNote(), replies, PipelineConfig{ConfirmationEnabled: true})

	res, err := f.uc.Process(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	stored := f.repo.stored("note-1")
	if stored.DetectedSubject != domain.SubjectOther || stored.DetectedNoteType != domain.NoteTypeGeneral {
		t.Fatalf("expected other/general defaults, got %s/%s", stored.DetectedSubject, stored.DetectedNoteType)
	}
	if f.llm.calls(string(StrategyBasicSummary)) != 1 {
		t.Fatalf("expected basic summary for the default classification, calls: %v", f.llm.systems())
	}
	for _, s := range f.repo.statuses {
		if s == domain.StatusFailed {
			t.Fatalf("parse failure must not fail the note: %v", f.repo.statuses)
		}
	}
}

func TestProcessEmptyOCRFails(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})
	f.ocr.pages["img-0"] = domain.OCRPage{Width: 100, Height: 100}

	_, err := f.uc.Process(context.Background(), "note-1")
	if !domain.IsKind(err, domain.ErrEmptyResult) {
		t.Fatalf("expected empty result error, got %v", err)
	}
	assertStatuses(t, f.repo.statuses, domain.StatusOCRProcessing, domain.StatusFailed)
	if f.llm.calls(PromptRefine) != 0 {
		t.Fatalf("classification must not run after empty ocr")
	}
}

func TestProcessOCRProviderFailure(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})
	f.ocr.err = errors.New("vision unavailable")

	_, err := f.uc.Process(context.Background(), "note-1")
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	stored := f.repo.stored("note-1")
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "vision unavailable") {
		t.Fatalf("expected error message to be persisted, got %q", stored.ErrorMessage)
	}
}

func TestProcessGenerationFailureKeepsContentEmpty(t *testing.T) {
	cases := []struct {
		name  string
		reply llmReply
		kind  error
	}{
		{name: "provider", reply: llmReply{err: errors.New("upstream 500")}, kind: domain.ErrProvider},
		{name: "truncated", reply: llmReply{text: "# partial", reason: ports.FinishTruncated}, kind: domain.ErrTruncated},
		{name: "empty", reply: llmReply{text: "   "}, kind: domain.ErrEmptyResult},
		{name: "refused", reply: llmReply{reason: ports.FinishRefused}, kind: domain.ErrEmptyResult},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			replies := defaultReplies()
			replies["summary.*"] = tc.reply
			f := newPipelineFixture(sampleNote(), replies, PipelineConfig{})

			_, err := f.uc.Process(context.Background(), "note-1")
			if !domain.IsKind(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			stored := f.repo.stored("note-1")
			if stored.Status != domain.StatusFailed {
				t.Fatalf("expected failed, got %s", stored.Status)
			}
			if stored.OrganizedContent != "" {
				t.Fatalf("expected no organized content, got %q", stored.OrganizedContent)
			}
			if stored.ErrorMessage == "" {
				t.Fatalf("expected error message")
			}
			if len(f.enrich.cards) != 0 {
				t.Fatalf("extraction must not run for a failed note")
			}
		})
	}
}

func TestProcessPausesForConfirmation(t *testing.T) {
	replies := defaultReplies()
	replies[PromptClassify] = llmReply{text: errorClassification}
	note := sampleNote()
	note.OrganizeMethod = domain.MethodCornell
	f := newPipelineFixture(note, replies, PipelineConfig{ConfirmationEnabled: true})

	res, err := f.uc.Process(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != domain.StatusConfirmationNeeded {
		t.Fatalf("expected confirmation_needed, got %s", res.Status)
	}
	if res.OrganizedContent != "" {
		t.Fatalf("expected no content while paused")
	}
	stored := f.repo.stored("note-1")
	if stored.Checkpoint == nil {
		t.Fatalf("expected checkpoint")
	}
	if stored.Checkpoint.SuggestedMethod != domain.MethodErrorNote {
		t.Fatalf("expected error_note suggestion, got %s", stored.Checkpoint.SuggestedMethod)
	}
	if stored.Checkpoint.Classification.NoteType != domain.NoteTypeErrorNote {
		t.Fatalf("unexpected checkpoint classification: %+v", stored.Checkpoint.Classification)
	}
	if f.llm.calls(string(StrategyCornell)) != 0 {
		t.Fatalf("generation must not run while paused")
	}
}

func TestProcessSkipsConfirmation(t *testing.T) {
	cases := []struct {
		name    string
		method  domain.OrganizeMethod
		enabled bool
		want    string
	}{
		{name: "disabled", method: domain.MethodCornell, enabled: false, want: string(StrategyCornell)},
		{name: "auto", method: domain.MethodAuto, enabled: true, want: string(StrategyErrorReviewMath)},
		{name: "matching method", method: domain.MethodErrorNote, enabled: true, want: string(StrategyErrorReviewMath)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			replies := defaultReplies()
			replies[PromptClassify] = llmReply{text: errorClassification}
			replies[string(StrategyCornell)] = llmReply{text: "cornell"}
			replies[string(StrategyErrorReviewMath)] = llmReply{text: "error review"}
			note := sampleNote()
			note.OrganizeMethod = tc.method
			f := newPipelineFixture(note, replies, PipelineConfig{ConfirmationEnabled: tc.enabled})

			res, err := f.uc.Process(context.Background(), "note-1")
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Status != domain.StatusCompleted {
				t.Fatalf("expected completed, got %s", res.Status)
			}
			if f.llm.calls(tc.want) != 1 {
				t.Fatalf("expected %s strategy, calls: %v", tc.want, f.llm.systems())
			}
		})
	}
}

func pausedNote() *domain.Note {
	note := sampleNote()
	note.Status = domain.StatusConfirmationNeeded
	note.OrganizeMethod = domain.MethodCornell
	note.OCRText = "문제 1 오답"
	note.DetectedSubject = domain.SubjectMath
	note.DetectedNoteType = domain.NoteTypeErrorNote
	note.Checkpoint = &domain.ClassificationCheckpoint{
		SchemaVersion: domain.CheckpointSchemaVersion,
		Classification: domain.Classification{
			RefinedText: "문제 1 오답",
			Subject:     domain.SubjectMath,
			NoteType:    domain.NoteTypeErrorNote,
			Source:      domain.SourceParsed,
		},
		SuggestedMethod: domain.MethodErrorNote,
	}
	return note
}

func TestConfirmTypeResumesFromCheckpoint(t *testing.T) {
	cases := []struct {
		name         string
		useAlternate bool
		wantStrategy string
		wantMethod   domain.OrganizeMethod
	}{
		{name: "alternate", useAlternate: true, wantStrategy: string(StrategyErrorReviewMath), wantMethod: domain.MethodErrorNote},
		{name: "keep", useAlternate: false, wantStrategy: string(StrategyCornell), wantMethod: domain.MethodCornell},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			replies := defaultReplies()
			replies[string(StrategyCornell)] = llmReply{text: "cornell"}
			replies[string(StrategyErrorReviewMath)] = llmReply{text: "error review"}
			f := newPipelineFixture(pausedNote(), replies, PipelineConfig{ConfirmationEnabled: true})
			f.ocr.err = errors.New("ocr must not run")

			res, err := f.uc.ConfirmType(context.Background(), "note-1", tc.useAlternate)
			if err != nil {
				t.Fatalf("ConfirmType() error = %v", err)
			}
			if res.Status != domain.StatusCompleted {
				t.Fatalf("expected completed, got %s", res.Status)
			}
			if f.llm.calls(tc.wantStrategy) != 1 {
				t.Fatalf("expected %s strategy, calls: %v", tc.wantStrategy, f.llm.systems())
			}
			if f.llm.calls(PromptRefine) != 0 || f.llm.calls(PromptClassify) != 0 {
				t.Fatalf("classification must not re-run, calls: %v", f.llm.systems())
			}
			stored := f.repo.stored("note-1")
			if stored.OrganizeMethod != tc.wantMethod {
				t.Fatalf("expected method %s, got %s", tc.wantMethod, stored.OrganizeMethod)
			}
			if stored.Checkpoint != nil {
				t.Fatalf("expected checkpoint to be cleared")
			}
			assertStatuses(t, f.repo.statuses, domain.StatusAIOrganizing, domain.StatusCompleted)
		})
	}
}

func TestConfirmTypeRejectsInvalidState(t *testing.T) {
	completed := pausedNote()
	completed.Status = domain.StatusCompleted
	noCheckpoint := pausedNote()
	noCheckpoint.Checkpoint = nil

	for name, note := range map[string]*domain.Note{"completed": completed, "missing checkpoint": noCheckpoint} {
		t.Run(name, func(t *testing.T) {
			f := newPipelineFixture(note, defaultReplies(), PipelineConfig{})

			_, err := f.uc.ConfirmType(context.Background(), "note-1", true)
			if !domain.IsKind(err, domain.ErrInvalidState) {
				t.Fatalf("expected invalid state, got %v", err)
			}
			if len(f.repo.statuses) != 0 {
				t.Fatalf("expected no state change, got %v", f.repo.statuses)
			}
		})
	}
}

func TestReprocessSkipsOCRAndReplacesContent(t *testing.T) {
	note := pausedNote()
	note.Status = domain.StatusCompleted
	note.OrganizeMethod = domain.MethodAuto
	note.OrganizedContent = "old content"
	f := newPipelineFixture(note, defaultReplies(), PipelineConfig{ConfirmationEnabled: true})
	f.ocr.err = errors.New("ocr must not run")

	res, err := f.uc.Reprocess(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if res.OrganizedContent != "# 수학 시험 범위 정리" {
		t.Fatalf("unexpected content: %q", res.OrganizedContent)
	}
	assertStatuses(t, f.repo.statuses, domain.StatusAIOrganizing, domain.StatusCompleted)
	if f.repo.stored("note-1").Checkpoint != nil {
		t.Fatalf("expected stale checkpoint to be dropped")
	}
	if f.llm.calls(PromptClassify) != 1 {
		t.Fatalf("expected classification to re-run")
	}
}

func TestReprocessRequiresOCRText(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})

	_, err := f.uc.Reprocess(context.Background(), "note-1")
	if !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestReprocessFailureClearsPreviousContent(t *testing.T) {
	note := pausedNote()
	note.Status = domain.StatusCompleted
	note.OrganizeMethod = domain.MethodAuto
	note.OrganizedContent = "old content"
	replies := defaultReplies()
	replies["summary.*"] = llmReply{err: errors.New("upstream down")}
	f := newPipelineFixture(note, replies, PipelineConfig{})

	if _, err := f.uc.Reprocess(context.Background(), "note-1"); err == nil {
		t.Fatalf("expected error")
	}
	stored := f.repo.stored("note-1")
	if stored.Status != domain.StatusFailed || stored.OrganizedContent != "" {
		t.Fatalf("expected failed note without content, got %s %q", stored.Status, stored.OrganizedContent)
	}
}

func TestConcurrentProcessConflicts(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})
	f.ocr.started = make(chan struct{}, 1)
	f.ocr.release = make(chan struct{})

	type outcome struct {
		res *domain.ProcessResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.uc.Process(context.Background(), "note-1")
		done <- outcome{res: res, err: err}
	}()

	<-f.ocr.started
	_, err := f.uc.Process(context.Background(), "note-1")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for concurrent run, got %v", err)
	}

	close(f.ocr.release)
	first := <-done
	if first.err != nil {
		t.Fatalf("first Process() error = %v", first.err)
	}
	if first.res.Status != domain.StatusCompleted {
		t.Fatalf("expected first run to complete, got %s", first.res.Status)
	}
}

func TestProcessVersionConflict(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})
	f.repo.updateErr = domain.WrapError(domain.ErrConflict, "update note", errors.New("version mismatch"))
	f.repo.failOn = domain.StatusOCRProcessing

	_, err := f.uc.Process(context.Background(), "note-1")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.repo.statuses) != 0 || f.llm.calls(PromptRefine) != 0 {
		t.Fatalf("pipeline must stop after a lost write")
	}
}

func TestStatusWriteErrorMarksNoteFailed(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})
	f.repo.updateErr = errors.New("db: connection reset")
	f.repo.failOn = domain.StatusAIOrganizing

	if _, err := f.uc.Process(context.Background(), "note-1"); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected write error, got %v", err)
	}
	stored := f.repo.stored("note-1")
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.OCRText == "" || !strings.Contains(stored.ErrorMessage, "connection reset") {
		t.Fatalf("expected ocr text and error message kept, got %q / %q", stored.OCRText, stored.ErrorMessage)
	}

	f.repo.updateErr = nil
	res, err := f.uc.Reprocess(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("expected completed after reprocess, got %s", res.Status)
	}
}

func TestCompletedWriteErrorMarksNoteFailed(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})
	f.repo.updateErr = errors.New("db: statement timeout")
	f.repo.failOn = domain.StatusCompleted

	if _, err := f.uc.Process(context.Background(), "note-1"); err == nil {
		t.Fatalf("expected error")
	}
	stored := f.repo.stored("note-1")
	if stored.Status != domain.StatusFailed || stored.OrganizedContent != "" {
		t.Fatalf("expected failed without content, got %s / %q", stored.Status, stored.OrganizedContent)
	}
	assertStatuses(t, f.repo.statuses,
		domain.StatusOCRProcessing, domain.StatusAIOrganizing, domain.StatusFailed)

	f.repo.updateErr = nil
	if _, err := f.uc.Process(context.Background(), "note-1"); err != nil {
		t.Fatalf("Process() retry error = %v", err)
	}
}

func TestHangingModelCallTimesOut(t *testing.T) {
	replies := defaultReplies()
	replies["summary.*"] = llmReply{hang: true}
	f := newPipelineFixture(sampleNote(), replies, PipelineConfig{CallTimeout: 20 * time.Millisecond})

	_, err := f.uc.Process(context.Background(), "note-1")
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	stored := f.repo.stored("note-1")
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "timed out") {
		t.Fatalf("expected timeout in error message, got %q", stored.ErrorMessage)
	}
}

func TestCancelledProcessStillRecordsFailure(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})
	f.ocr.started = make(chan struct{}, 1)
	f.ocr.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.uc.Process(ctx, "note-1")
		done <- err
	}()

	<-f.ocr.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := f.repo.stored("note-1").Status; got != domain.StatusFailed {
		t.Fatalf("expected failed after cancellation, got %s", got)
	}
}

func TestExtractionFailureLeavesNoteCompleted(t *testing.T) {
	replies := defaultReplies()
	replies[PromptConceptCards] = llmReply{err: errors.New("extract model down")}
	f := newPipelineFixture(sampleNote(), replies, PipelineConfig{})

	res, err := f.uc.Process(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	stored := f.repo.stored("note-1")
	if stored.Status != domain.StatusCompleted || stored.OrganizedContent != "# 수학 시험 범위 정리" {
		t.Fatalf("extraction failure changed the note: %s %q", stored.Status, stored.OrganizedContent)
	}
	if len(f.observer.failures) != 1 || f.observer.failures[0] != extractorConceptCards {
		t.Fatalf("expected one counted extraction failure, got %v", f.observer.failures)
	}
}

func TestStatusView(t *testing.T) {
	completed := sampleNote()
	completed.Status = domain.StatusCompleted
	completed.OrganizedContent = "content"
	f := newPipelineFixture(completed, defaultReplies(), PipelineConfig{})

	res, err := f.uc.Status(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if res.OrganizedContent != "content" || res.ErrorMessage != "" {
		t.Fatalf("unexpected completed view: %+v", res)
	}

	failed := sampleNote()
	failed.Status = domain.StatusFailed
	failed.ErrorMessage = "boom"
	f = newPipelineFixture(failed, defaultReplies(), PipelineConfig{})
	res, err = f.uc.Status(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if res.ErrorMessage != "boom" || res.OrganizedContent != "" {
		t.Fatalf("unexpected failed view: %+v", res)
	}
}

func TestHandleCommandRoutesActions(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})

	if err := f.uc.HandleCommand(context.Background(), domain.NoteCommand{NoteID: "note-1", Action: domain.ActionProcess}); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if f.repo.stored("note-1").Status != domain.StatusCompleted {
		t.Fatalf("expected process command to complete the note")
	}

	err := f.uc.HandleCommand(context.Background(), domain.NoteCommand{NoteID: "note-1", Action: "delete"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown action, got %v", err)
	}
}

func TestObserverSeesStagesAndTransitions(t *testing.T) {
	f := newPipelineFixture(sampleNote(), defaultReplies(), PipelineConfig{})

	if _, err := f.uc.Process(context.Background(), "note-1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	wantTransitions := []string{
		"uploading->ocr_processing",
		"ocr_processing->ai_organizing",
		"ai_organizing->completed",
	}
	if strings.Join(f.observer.transitions, ",") != strings.Join(wantTransitions, ",") {
		t.Fatalf("unexpected transitions: %v", f.observer.transitions)
	}
	joined := strings.Join(f.observer.stages, ",")
	for _, stage := range []string{"ocr:ok", "classify:ok", "generate:ok", "extract.concept_cards:ok"} {
		if !strings.Contains(joined, stage) {
			t.Fatalf("expected stage %s in %v", stage, f.observer.stages)
		}
	}
}

package domain

import "time"

// WeakConcept is a concept the user repeatedly gets wrong, tracked per user.
type WeakConcept struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Subject     Subject   `json:"subject"`
	Unit        string    `json:"unit,omitempty"`
	Concept     string    `json:"concept"`
	ErrorReason string    `json:"error_reason,omitempty"`
	ErrorCount  int       `json:"error_count"`
	LastNoteID  string    `json:"last_note_id,omitempty"`
	FirstSeenAt time.Time `json:"first_error_at"`
	LastSeenAt  time.Time `json:"last_error_at"`
}

type CardType string

const (
	CardConcept    CardType = "concept"
	CardFormula    CardType = "formula"
	CardSolution   CardType = "solution"
	CardPassage    CardType = "passage"
	CardVocab      CardType = "vocab"
	CardGrammar    CardType = "grammar"
	CardLiterature CardType = "literature"
	CardProcess    CardType = "process"
	CardExperiment CardType = "experiment"
	CardDiagram    CardType = "diagram"
	CardTimeline   CardType = "timeline"
	CardTerms      CardType = "terms"
)

var CardTypes = []CardType{
	CardConcept, CardFormula, CardSolution, CardPassage, CardVocab, CardGrammar,
	CardLiterature, CardProcess, CardExperiment, CardDiagram, CardTimeline, CardTerms,
}

func NormalizeCardType(raw string) CardType {
	for _, t := range CardTypes {
		if string(t) == raw {
			return t
		}
	}
	return CardConcept
}

// ConceptCard is a structured key concept extracted from an organized note.
type ConceptCard struct {
	ID             string         `json:"id"`
	NoteID         string         `json:"note_id"`
	UserID         string         `json:"user_id,omitempty"`
	CardType       CardType       `json:"card_type"`
	Title          string         `json:"title"`
	Subject        Subject        `json:"subject"`
	UnitName       string         `json:"unit_name,omitempty"`
	Content        map[string]any `json:"content"`
	CommonMistakes []string       `json:"common_mistakes,omitempty"`
	EvidenceSpans  []string       `json:"evidence_spans,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

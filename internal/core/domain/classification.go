package domain

import "time"

type Subject string

const (
	SubjectMath    Subject = "math"
	SubjectEnglish Subject = "english"
	SubjectKorean  Subject = "korean"
	SubjectHistory Subject = "history"
	SubjectSocial  Subject = "social"
	SubjectScience Subject = "science"
	SubjectOther   Subject = "other"
)

var Subjects = []Subject{
	SubjectMath, SubjectEnglish, SubjectKorean, SubjectHistory, SubjectSocial, SubjectScience, SubjectOther,
}

func NormalizeSubject(raw string) Subject {
	for _, s := range Subjects {
		if string(s) == raw {
			return s
		}
	}
	return SubjectOther
}

type NoteType string

const (
	NoteTypeGeneral   NoteType = "general"
	NoteTypeErrorNote NoteType = "error_note"
	NoteTypeVocab     NoteType = "vocab"
)

var NoteTypes = []NoteType{NoteTypeGeneral, NoteTypeErrorNote, NoteTypeVocab}

func NormalizeNoteType(raw string) NoteType {
	for _, t := range NoteTypes {
		if string(t) == raw {
			return t
		}
	}
	return NoteTypeGeneral
}

// ClassificationSource tells whether the classification came from a parsed
// model response or from the fallback defaults.
type ClassificationSource string

const (
	SourceParsed  ClassificationSource = "parsed"
	SourceDefault ClassificationSource = "default"
)

type Classification struct {
	RefinedText string               `json:"refined_text"`
	Subject     Subject              `json:"subject"`
	NoteType    NoteType             `json:"note_type"`
	Unit        string               `json:"unit"`
	Structure   string               `json:"structure"`
	Source      ClassificationSource `json:"source"`
}

// DefaultClassification is used when the classifier response cannot be parsed.
// The raw response is kept as the structure summary.
func DefaultClassification(refinedText, rawResponse string) Classification {
	return Classification{
		RefinedText: refinedText,
		Subject:     SubjectOther,
		NoteType:    NoteTypeGeneral,
		Unit:        "",
		Structure:   rawResponse,
		Source:      SourceDefault,
	}
}

const CheckpointSchemaVersion = 1

// ClassificationCheckpoint is persisted while a note waits for confirmation.
type ClassificationCheckpoint struct {
	SchemaVersion   int            `json:"schema_version"`
	Classification  Classification `json:"classification"`
	SuggestedMethod OrganizeMethod `json:"suggested_method"`
	Reason          string         `json:"reason"`
	CreatedAt       time.Time      `json:"created_at"`
}

package domain

// NormalizedSpace is the side of the square coordinate space block boxes are
// rescaled into before they are embedded in prompts.
const NormalizedSpace = 1000

// Word is a single OCR token in source-image pixel space.
type Word struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

func (w Word) CY() float64 {
	return float64(w.Y) + float64(w.H)/2
}

// Line is a row of words merged by vertical proximity.
type Line struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	CY         float64 `json:"cy"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"word_count"`
}

// BBox is [x, y, w, h].
type BBox [4]int

func (b BBox) X() int { return b[0] }
func (b BBox) Y() int { return b[1] }
func (b BBox) W() int { return b[2] }
func (b BBox) H() int { return b[3] }

// Block is the unit handed to the language model. BBox is in the 0-1000
// normalized space of the image identified by Page.
type Block struct {
	ID         string  `json:"id"`
	Page       int     `json:"page"`
	BBox       BBox    `json:"bbox"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	LineCount  int     `json:"line_count"`
}

// OCRPage is the word-level output of an OCR provider for one image.
type OCRPage struct {
	Words  []Word `json:"words"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

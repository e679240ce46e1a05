// Package layout turns word-level OCR geometry into compact text blocks.
//
// Words of one image are merged into lines by vertical proximity, lines are
// merged into blocks by vertical gap and left-edge alignment, and block boxes
// are rescaled into a 0-1000 space independent of the source resolution.
package layout

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/notegen/internal/core/domain"
)

const (
	// LineMergeFactor bounds the centre distance of two words on one line,
	// relative to the average word height of the current line.
	LineMergeFactor = 0.8
	// BlockGapFactor bounds the vertical gap between two lines of one block,
	// relative to the average line height of the current block.
	BlockGapFactor = 2.0
	// DefaultIndentThreshold is the maximum left-edge difference in source
	// pixels for two lines to share a block.
	DefaultIndentThreshold = 100
)

var ErrInvalidDimensions = errors.New("image dimensions must be positive")

type Options struct {
	IndentThreshold int
}

// Clusterer is stateless apart from its options and safe for concurrent use.
type Clusterer struct {
	indentThreshold float64
}

func NewClusterer(opts Options) *Clusterer {
	threshold := opts.IndentThreshold
	if threshold <= 0 {
		threshold = DefaultIndentThreshold
	}
	return &Clusterer{indentThreshold: float64(threshold)}
}

// Cluster converts the words of one image into normalized blocks. Block ids
// start at firstID so a multi-image note can keep ids unique.
func (c *Clusterer) Cluster(page domain.OCRPage, pageIndex, firstID int) ([]domain.Block, error) {
	if page.Width <= 0 || page.Height <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "cluster page",
			fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, page.Width, page.Height))
	}
	lines := GroupLines(page.Words)
	blocks := c.GroupBlocks(lines)
	for i := range blocks {
		blocks[i].ID = fmt.Sprintf("b%d", firstID+i)
		blocks[i].Page = pageIndex
		blocks[i].BBox = Normalize(blocks[i].BBox, page.Width, page.Height)
	}
	return blocks, nil
}

// GroupLines merges words whose vertical centres are closer than
// LineMergeFactor times the average height of the line being built.
// Each word is compared with the last word added, not with the first.
func GroupLines(words []domain.Word) []domain.Line {
	if len(words) == 0 {
		return nil
	}
	sorted := make([]domain.Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].CY(), sorted[j].CY()
		if ci != cj {
			return ci < cj
		}
		return sorted[i].X < sorted[j].X
	})

	var lines []domain.Line
	group := []domain.Word{sorted[0]}
	for _, w := range sorted[1:] {
		last := group[len(group)-1]
		if math.Abs(w.CY()-last.CY()) < LineMergeFactor*averageWordHeight(group) {
			group = append(group, w)
			continue
		}
		lines = append(lines, closeLine(group))
		group = []domain.Word{w}
	}
	return append(lines, closeLine(group))
}

// GroupBlocks merges consecutive lines separated by less than BlockGapFactor
// average line heights whose left edges differ by less than the indent
// threshold. Returned blocks carry pixel boxes and no id.
func (c *Clusterer) GroupBlocks(lines []domain.Line) []domain.Block {
	if len(lines) == 0 {
		return nil
	}
	sorted := make([]domain.Line, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	var blocks []domain.Block
	group := []domain.Line{sorted[0]}
	for _, ln := range sorted[1:] {
		prev := group[len(group)-1]
		gap := float64(ln.Y - (prev.Y + prev.H))
		indent := math.Abs(float64(ln.X - prev.X))
		if gap < BlockGapFactor*averageLineHeight(group) && indent < c.indentThreshold {
			group = append(group, ln)
			continue
		}
		blocks = append(blocks, closeBlock(group))
		group = []domain.Line{ln}
	}
	return append(blocks, closeBlock(group))
}

// Normalize rescales a pixel box into the 0-1000 space. Components are
// clamped to [0, NormalizedSpace-1].
func Normalize(box domain.BBox, width, height int) domain.BBox {
	return domain.BBox{
		scale(box[0], width),
		scale(box[1], height),
		scale(box[2], width),
		scale(box[3], height),
	}
}

func scale(v, dim int) int {
	n := int(math.Floor(float64(v) * domain.NormalizedSpace / float64(dim)))
	if n < 0 {
		return 0
	}
	if n > domain.NormalizedSpace-1 {
		return domain.NormalizedSpace - 1
	}
	return n
}

func closeLine(words []domain.Word) domain.Line {
	sort.SliceStable(words, func(i, j int) bool { return words[i].X < words[j].X })

	texts := make([]string, 0, len(words))
	minX, minY := words[0].X, words[0].Y
	maxX, maxY := words[0].X+words[0].W, words[0].Y+words[0].H
	var conf float64
	for _, w := range words {
		texts = append(texts, w.Text)
		minX = min(minX, w.X)
		minY = min(minY, w.Y)
		maxX = max(maxX, w.X+w.W)
		maxY = max(maxY, w.Y+w.H)
		conf += w.Confidence
	}
	h := maxY - minY
	return domain.Line{
		Text:       strings.Join(texts, " "),
		X:          minX,
		Y:          minY,
		W:          maxX - minX,
		H:          h,
		CY:         float64(minY) + float64(h)/2,
		Confidence: conf / float64(len(words)),
		WordCount:  len(words),
	}
}

func closeBlock(lines []domain.Line) domain.Block {
	texts := make([]string, 0, len(lines))
	minX, minY := lines[0].X, lines[0].Y
	maxX, maxY := lines[0].X+lines[0].W, lines[0].Y+lines[0].H
	var conf float64
	for _, ln := range lines {
		texts = append(texts, ln.Text)
		minX = min(minX, ln.X)
		minY = min(minY, ln.Y)
		maxX = max(maxX, ln.X+ln.W)
		maxY = max(maxY, ln.Y+ln.H)
		conf += ln.Confidence
	}
	return domain.Block{
		BBox:       domain.BBox{minX, minY, maxX - minX, maxY - minY},
		Text:       strings.Join(texts, "\n"),
		Confidence: conf / float64(len(lines)),
		LineCount:  len(lines),
	}
}

func averageWordHeight(words []domain.Word) float64 {
	var sum int
	for _, w := range words {
		sum += w.H
	}
	return float64(sum) / float64(len(words))
}

func averageLineHeight(lines []domain.Line) float64 {
	var sum int
	for _, ln := range lines {
		sum += ln.H
	}
	return float64(sum) / float64(len(lines))
}

package layout

import (
	"fmt"
	"strings"

	"github.com/kirillkom/notegen/internal/core/domain"
)

// FormatBlocks renders blocks one per line as `b0 [x,y,w,h] text`.
// Line breaks inside a block are written as " / ".
func FormatBlocks(blocks []domain.Block) string {
	var b strings.Builder
	for i, blk := range blocks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s [%d,%d,%d,%d] %s",
			blk.ID, blk.BBox[0], blk.BBox[1], blk.BBox[2], blk.BBox[3],
			strings.ReplaceAll(blk.Text, "\n", " / "))
	}
	return b.String()
}

// PlainText joins block texts in order, separated by newlines.
func PlainText(blocks []domain.Block) string {
	texts := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		if t := strings.TrimSpace(blk.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

// Flatten treats each block as a single word spanning its box, so clustering
// can be applied again to its own output. The result is stable only for
// blocks whose centres are at least LineMergeFactor times the taller
// block's height apart; closer blocks merge into one line.
func Flatten(blocks []domain.Block) []domain.Word {
	words := make([]domain.Word, 0, len(blocks))
	for _, blk := range blocks {
		words = append(words, domain.Word{
			Text:       blk.Text,
			X:          blk.BBox[0],
			Y:          blk.BBox[1],
			W:          blk.BBox[2],
			H:          blk.BBox[3],
			Confidence: blk.Confidence,
		})
	}
	return words
}

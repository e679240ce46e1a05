// Package tesseract implements ports.OCRProvider with a local Tesseract
// installation through gosseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/infrastructure/ocr"
)

var DefaultLanguages = []string{"kor", "eng"}

type recognizeFunc func(image []byte, languages []string) ([]gosseract.BoundingBox, error)

type Options struct {
	Languages []string
	// MaxConcurrent caps parallel Tesseract engines; each one holds the full
	// traineddata set in memory.
	MaxConcurrent int64
}

type Provider struct {
	recognize recognizeFunc
	languages []string
	sem       *semaphore.Weighted
}

func New(opts Options) *Provider {
	return newProvider(recognizeWords, opts)
}

func newProvider(recognize recognizeFunc, opts Options) *Provider {
	languages := opts.Languages
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = 2
	}
	return &Provider{
		recognize: recognize,
		languages: languages,
		sem:       semaphore.NewWeighted(limit),
	}
}

func (p *Provider) ExtractWords(ctx context.Context, image []byte) (domain.OCRPage, error) {
	width, height, err := ocr.ImageSize(image)
	if err != nil {
		return domain.OCRPage{}, err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return domain.OCRPage{}, err
	}

	type result struct {
		boxes []gosseract.BoundingBox
		err   error
	}
	done := make(chan result, 1)
	// The engine cannot be interrupted; its slot is held until it returns
	// even when the caller gave up.
	go func() {
		defer p.sem.Release(1)
		boxes, err := p.recognize(image, p.languages)
		done <- result{boxes: boxes, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.OCRPage{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return domain.OCRPage{}, fmt.Errorf("tesseract recognize: %w", res.err)
		}
		return domain.OCRPage{
			Words:  wordsFromBoxes(res.boxes),
			Width:  width,
			Height: height,
		}, nil
	}
}

func recognizeWords(image []byte, languages []string) ([]gosseract.BoundingBox, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(languages...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	return client.GetBoundingBoxes(gosseract.RIL_WORD)
}

// Tesseract reports confidence on a 0-100 scale.
func wordsFromBoxes(boxes []gosseract.BoundingBox) []domain.Word {
	words := make([]domain.Word, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		words = append(words, domain.Word{
			Text:       text,
			X:          box.Box.Min.X,
			Y:          box.Box.Min.Y,
			W:          box.Box.Dx(),
			H:          box.Box.Dy(),
			Confidence: box.Confidence / 100,
		})
	}
	return words
}

// Package googlevision implements ports.OCRProvider with the Google Cloud
// Vision DOCUMENT_TEXT_DETECTION feature.
package googlevision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/infrastructure/ocr"
	"github.com/kirillkom/notegen/internal/infrastructure/resilience"
)

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

type Options struct {
	// CredentialsJSON takes precedence over CredentialsFile. With neither set
	// application default credentials are used.
	CredentialsJSON    string
	CredentialsFile    string
	LanguageHints      []string
	ResilienceExecutor *resilience.Executor
}

type Provider struct {
	annotate      annotateFunc
	close         func() error
	languageHints []string
	executor      *resilience.Executor
}

func New(ctx context.Context, opts Options) (*Provider, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}

	p := newProvider(func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		return client.BatchAnnotateImages(ctx, req)
	}, opts)
	p.close = client.Close
	return p, nil
}

func newProvider(annotate annotateFunc, opts Options) *Provider {
	return &Provider{
		annotate:      annotate,
		close:         func() error { return nil },
		languageHints: opts.LanguageHints,
		executor:      opts.ResilienceExecutor,
	}
}

func (p *Provider) Close() error {
	return p.close()
}

func (p *Provider) ExtractWords(ctx context.Context, image []byte) (domain.OCRPage, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: image},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	}
	if len(p.languageHints) > 0 {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: p.languageHints}
	}

	resp, err := resilience.Do(ctx, p.executor, "vision.annotate", func(callCtx context.Context) (*visionpb.BatchAnnotateImagesResponse, error) {
		return p.annotate(callCtx, req)
	}, classifyVisionError)
	if err != nil {
		if err = resilience.WrapTemporary("vision annotate", err, classifyVisionError); domain.IsKind(err, domain.ErrTemporary) {
			return domain.OCRPage{}, err
		}
		return domain.OCRPage{}, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return domain.OCRPage{}, errors.New("vision annotate: empty response")
	}

	imageResp := resp.GetResponses()[0]
	if apiErr := imageResp.GetError(); apiErr != nil && apiErr.GetCode() != int32(codes.OK) {
		return domain.OCRPage{}, fmt.Errorf("vision annotate: %s", apiErr.GetMessage())
	}
	return pageFromAnnotation(imageResp.GetFullTextAnnotation(), image)
}

// pageFromAnnotation flattens the page/block/paragraph/word tree into
// words. Vision reports page size; the image header is the fallback when
// nothing was recognized.
func pageFromAnnotation(annotation *visionpb.TextAnnotation, image []byte) (domain.OCRPage, error) {
	var page domain.OCRPage
	for _, p := range annotation.GetPages() {
		if page.Width == 0 {
			page.Width = int(p.GetWidth())
			page.Height = int(p.GetHeight())
		}
		for _, block := range p.GetBlocks() {
			for _, paragraph := range block.GetParagraphs() {
				for _, word := range paragraph.GetWords() {
					if w, ok := convertWord(word); ok {
						page.Words = append(page.Words, w)
					}
				}
			}
		}
	}

	if page.Width <= 0 || page.Height <= 0 {
		w, h, err := ocr.ImageSize(image)
		if err != nil {
			return domain.OCRPage{}, err
		}
		page.Width, page.Height = w, h
	}
	return page, nil
}

func convertWord(word *visionpb.Word) (domain.Word, bool) {
	var text strings.Builder
	for _, symbol := range word.GetSymbols() {
		text.WriteString(symbol.GetText())
	}
	if strings.TrimSpace(text.String()) == "" {
		return domain.Word{}, false
	}

	vertices := word.GetBoundingBox().GetVertices()
	xs := make([]int, 0, len(vertices))
	ys := make([]int, 0, len(vertices))
	for _, v := range vertices {
		xs = append(xs, int(v.GetX()))
		ys = append(ys, int(v.GetY()))
	}
	x, y, w, h := ocr.BoxFromPoints(xs, ys)
	return domain.Word{
		Text:       text.String(),
		X:          x,
		Y:          y,
		W:          w,
		H:          h,
		Confidence: float64(word.GetConfidence()),
	}, true
}

var classifyVisionError = resilience.WithOpenCircuit(classifyStatus)

// classifyStatus maps gRPC codes; errors without one fall back to the
// transport policy.
func classifyStatus(err error) resilience.ErrorClassification {
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	return resilience.ClassifyTransportError(err)
}

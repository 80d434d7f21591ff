package hls

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// defaultTargetDuration is the TargetDuration every HLS Manifest reports;
// the playlist's own #EXT-X-TARGETDURATION is not read.
const defaultTargetDuration = 6 * time.Second

// Parser implements manifest.Parser for HLS master and media playlists.
type Parser struct {
	fetcher manifest.Fetcher
}

// New creates an HLS parser backed by the given content fetcher.
func New(fetcher manifest.Fetcher) *Parser {
	return &Parser{fetcher: fetcher}
}

var _ manifest.Parser = (*Parser)(nil)

// Parse fetches the manifest and classifies it as a master (multivariant)
// playlist or, when it carries segments directly, a single-rendition
// media playlist addressed as its own entry point.
func (p *Parser) Parse(ctx context.Context, manifestURL *url.URL) (*manifest.Manifest, error) {
	content, err := p.fetcher.FetchText(ctx, manifestURL)
	if err != nil {
		return nil, errors.NewManifestFetchError(err.Error(), err)
	}

	if strings.Contains(content, "#EXT-X-STREAM-INF") {
		renditions, err := parseMaster(content, manifestURL)
		if err != nil {
			return nil, err
		}
		if len(renditions) == 0 {
			return nil, errors.NewInvalidManifestError("master playlist carries no #EXT-X-STREAM-INF variants")
		}
		return &manifest.Manifest{
			Kind:           manifest.KindHLS,
			Renditions:     renditions,
			IsLive:         false,
			TargetDuration: defaultTargetDuration,
			BaseURL:        manifestURL,
		}, nil
	}

	result, err := parseMedia(content, manifestURL)
	if err != nil {
		return nil, err
	}
	if len(result.Segments) == 0 {
		return nil, errors.NewInvalidManifestError("playlist carries no #EXT-X-STREAM-INF variants and no segments")
	}

	rendition := types.Rendition{
		ID:  "default",
		URI: manifestURL.String(),
	}

	return &manifest.Manifest{
		Kind:           manifest.KindHLS,
		Renditions:     []types.Rendition{rendition},
		IsLive:         result.IsLive,
		Duration:       result.Duration,
		TargetDuration: defaultTargetDuration,
		BaseURL:        manifestURL,
	}, nil
}

// ParseVariant fetches a single media playlist and returns its segments.
func (p *Parser) ParseVariant(ctx context.Context, variantURL *url.URL) ([]types.Segment, error) {
	content, err := p.fetcher.FetchText(ctx, variantURL)
	if err != nil {
		return nil, errors.NewManifestFetchError(err.Error(), err)
	}
	result, err := parseMedia(content, variantURL)
	if err != nil {
		return nil, err
	}
	return result.Segments, nil
}

// GetLatestSegments re-fetches the variant playlist and returns only the
// segments newer than lastSequence, for live-stream polling.
func (p *Parser) GetLatestSegments(ctx context.Context, variantURL *url.URL, lastSequence uint64) ([]types.Segment, error) {
	all, err := p.ParseVariant(ctx, variantURL)
	if err != nil {
		return nil, err
	}

	var fresh []types.Segment
	for _, s := range all {
		if s.Number > lastSequence {
			fresh = append(fresh, s)
		}
	}
	return fresh, nil
}

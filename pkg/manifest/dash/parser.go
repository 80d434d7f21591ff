package dash

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/types"
)

const defaultSegmentDuration = 4 * time.Second

// Parser implements manifest.Parser for MPEG-DASH MPD documents.
type Parser struct {
	fetcher manifest.Fetcher
}

// New creates a DASH parser backed by the given content fetcher.
func New(fetcher manifest.Fetcher) *Parser {
	return &Parser{fetcher: fetcher}
}

var _ manifest.Parser = (*Parser)(nil)

// Parse fetches and decodes the MPD, returning its representations
// sorted ascending by bandwidth.
func (p *Parser) Parse(ctx context.Context, manifestURL *url.URL) (*manifest.Manifest, error) {
	content, err := p.fetcher.FetchText(ctx, manifestURL)
	if err != nil {
		return nil, errors.NewManifestFetchError(err.Error(), err)
	}

	doc, err := decodeMPD(content)
	if err != nil {
		return nil, err
	}

	base := resolveBase(manifestURL, doc.BaseURL)
	isLive := doc.Type == "dynamic"

	var duration *time.Duration
	if d, ok := parseISO8601Duration(doc.MediaPresentationDuration); ok {
		duration = &d
	}

	targetDuration := defaultSegmentDuration
	if d, ok := parseISO8601Duration(doc.MaxSegmentDuration); ok {
		targetDuration = d
	}

	renditions, err := extractRenditions(doc, base)
	if err != nil {
		return nil, err
	}

	return &manifest.Manifest{
		Kind:           manifest.KindDASH,
		Renditions:     renditions,
		IsLive:         isLive,
		Duration:       duration,
		TargetDuration: targetDuration,
		BaseURL:        manifestURL,
	}, nil
}

// ParseVariant fetches the MPD and enumerates the segments for the
// representation identified by variantURL's final path fragment. DASH
// has no standalone per-variant document the way HLS does, so the
// representation id travels in the URL fragment that
// renditionFromRepresentation puts on each rendition's URI.
func (p *Parser) ParseVariant(ctx context.Context, variantURL *url.URL) ([]types.Segment, error) {
	manifestURL, representationID := splitVariantURL(variantURL)

	content, err := p.fetcher.FetchText(ctx, manifestURL)
	if err != nil {
		return nil, errors.NewManifestFetchError(err.Error(), err)
	}

	doc, err := decodeMPD(content)
	if err != nil {
		return nil, err
	}

	base := resolveBase(manifestURL, doc.BaseURL)
	isLive := doc.Type == "dynamic"

	var totalDuration time.Duration
	if d, ok := parseISO8601Duration(doc.MediaPresentationDuration); ok {
		totalDuration = d
	}

	for _, period := range doc.Periods {
		periodBase := resolveBase(base, period.BaseURL)
		for _, as := range period.AdaptationSets {
			asBase := resolveBase(periodBase, as.BaseURL)
			for _, rep := range as.Representations {
				if rep.ID != representationID {
					continue
				}
				return segmentsForRepresentation(rep, as.SegmentTemplate, asBase, totalDuration, isLive)
			}
		}
	}

	return nil, errors.NewInvalidManifestError(fmt.Sprintf("representation %q not found in MPD", representationID))
}

// GetLatestSegments re-fetches and filters to segments newer than
// lastSequence, for live-stream polling.
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

func decodeMPD(content string) (*mpd, error) {
	var doc mpd
	if err := xml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, errors.NewManifestParseError(fmt.Sprintf("failed to parse MPD: %v", err))
	}
	return &doc, nil
}

func resolveBase(base *url.URL, ref string) *url.URL {
	if ref == "" {
		return base
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return base
	}
	return base.ResolveReference(parsed)
}

// splitVariantURL recovers the manifest URL and representation id that
// renditionFromRepresentation encodes into a synthetic variant URL as
// "#<id>".
func splitVariantURL(variantURL *url.URL) (*url.URL, string) {
	withoutFragment := *variantURL
	id := withoutFragment.Fragment
	withoutFragment.Fragment = ""
	return &withoutFragment, id
}

func extractRenditions(doc *mpd, base *url.URL) ([]types.Rendition, error) {
	var renditions []types.Rendition
	idx := 0

	for _, period := range doc.Periods {
		periodBase := resolveBase(base, period.BaseURL)
		for _, as := range period.AdaptationSets {
			asBase := resolveBase(periodBase, as.BaseURL)
			for _, rep := range as.Representations {
				renditions = append(renditions, renditionFromRepresentation(rep, asBase, idx))
				idx++
			}
		}
	}

	if len(renditions) == 0 {
		return nil, errors.NewInvalidManifestError("no representations found in MPD")
	}

	sort.Slice(renditions, func(i, j int) bool { return renditions[i].Bandwidth < renditions[j].Bandwidth })
	return renditions, nil
}

func renditionFromRepresentation(rep mpdRepresentation, base *url.URL, idx int) types.Rendition {
	id := rep.ID
	if id == "" {
		id = fmt.Sprintf("rep_%d", idx)
	}

	repBase := resolveBase(base, rep.BaseURL)
	// The variant URL carries the representation id as a fragment so
	// ParseVariant can recover it without re-deriving it from SegmentTemplate
	// substitution; the manifest itself is the actual document to refetch.
	variantURL := *repBase
	variantURL.Fragment = id

	rendition := types.Rendition{
		ID:        id,
		Bandwidth: rep.Bandwidth,
		URI:       variantURL.String(),
	}

	if rep.Width != nil && rep.Height != nil {
		rendition.Resolution = &types.Resolution{Width: *rep.Width, Height: *rep.Height}
	}

	if rep.Codecs != "" {
		rendition.VideoCodec = manifest.ParseVideoCodec(rep.Codecs)
		rendition.AudioCodec = manifest.ParseAudioCodec(rep.Codecs)
	}

	if rep.FrameRate != "" {
		if fr, ok := parseFrameRate(rep.FrameRate); ok {
			rendition.FrameRate = &fr
		}
	}

	return rendition
}

func parseFrameRate(s string) (float32, bool) {
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		if len(parts) != 2 {
			return 0, false
		}
		num, err1 := strconv.ParseFloat(parts[0], 32)
		den, err2 := strconv.ParseFloat(parts[1], 32)
		if err1 != nil || err2 != nil || den == 0 {
			return 0, false
		}
		return float32(num / den), true
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}

// segmentsForRepresentation enumerates segments for one representation
// from its own SegmentTemplate, else the adaptation set's
// SegmentTemplate, else its own SegmentList; an adaptation-set template
// therefore takes precedence over a representation-level SegmentList.
func segmentsForRepresentation(rep mpdRepresentation, asTemplate *mpdSegmentTemplate, base *url.URL, totalDuration time.Duration, isLive bool) ([]types.Segment, error) {
	template := rep.SegmentTemplate
	if template == nil {
		template = asTemplate
	}

	if template != nil {
		return segmentsFromTemplate(rep, template, base, totalDuration, isLive)
	}

	if rep.SegmentList != nil {
		return segmentsFromList(rep, base)
	}

	return nil, errors.NewInvalidManifestError(fmt.Sprintf("representation %q has no SegmentTemplate or SegmentList", rep.ID))
}

func segmentsFromTemplate(rep mpdRepresentation, template *mpdSegmentTemplate, base *url.URL, totalDuration time.Duration, isLive bool) ([]types.Segment, error) {
	timescale := template.Timescale
	if timescale == 0 {
		timescale = 1
	}
	segDuration := time.Duration(float64(template.Duration) / float64(timescale) * float64(time.Second))
	if segDuration <= 0 {
		segDuration = defaultSegmentDuration
	}

	startNumber := uint64(1)
	if template.StartNumber != nil {
		startNumber = *template.StartNumber
	}

	// Live manifests anchor from startNumber and a caller re-polls via
	// GetLatestSegments for new segments as the MPD updates;
	// here we only ever produce the currently announced window.
	count := uint64(1)
	if !isLive && totalDuration > 0 {
		count = uint64(math.Ceil(totalDuration.Seconds() / segDuration.Seconds()))
	}

	segments := make([]types.Segment, 0, count)
	for i := uint64(0); i < count; i++ {
		number := startNumber + i
		mediaTime := i * template.Duration

		mediaPath := template.Media
		mediaPath = strings.ReplaceAll(mediaPath, "$RepresentationID$", rep.ID)
		mediaPath = strings.ReplaceAll(mediaPath, "$Number$", strconv.FormatUint(number, 10))
		mediaPath = strings.ReplaceAll(mediaPath, "$Time$", strconv.FormatUint(mediaTime, 10))

		segURL, err := url.Parse(mediaPath)
		if err != nil {
			return nil, errors.NewInvalidManifestError(fmt.Sprintf("invalid segment URL %q: %v", mediaPath, err))
		}

		segments = append(segments, types.Segment{
			Number:   number,
			URI:      base.ResolveReference(segURL).String(),
			Duration: segDuration,
		})
	}

	return segments, nil
}

func segmentsFromList(rep mpdRepresentation, base *url.URL) ([]types.Segment, error) {
	segDuration := defaultSegmentDuration
	if rep.SegmentList.Duration > 0 {
		segDuration = time.Duration(rep.SegmentList.Duration) * time.Second
	}

	segments := make([]types.Segment, 0, len(rep.SegmentList.SegmentURLs))
	for i, su := range rep.SegmentList.SegmentURLs {
		segURL, err := url.Parse(su.Media)
		if err != nil {
			return nil, errors.NewInvalidManifestError(fmt.Sprintf("invalid SegmentURL %q: %v", su.Media, err))
		}
		segments = append(segments, types.Segment{
			Number:   uint64(i) + 1,
			URI:      base.ResolveReference(segURL).String(),
			Duration: segDuration,
		})
	}

	if len(segments) == 0 {
		return nil, errors.NewInvalidManifestError("SegmentList has no SegmentURL entries")
	}
	return segments, nil
}

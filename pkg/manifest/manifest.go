// Package manifest defines the uniform document produced by the HLS and
// DASH parsers, and dispatches to the right one.
package manifest

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ExpertVagabond/kino/pkg/types"
)

// Kind distinguishes the two accepted manifest formats.
type Kind int

const (
	KindHLS Kind = iota
	KindDASH
)

func (k Kind) String() string {
	if k == KindDASH {
		return "dash"
	}
	return "hls"
}

// Manifest is the parser-agnostic, top-level document.
type Manifest struct {
	Kind Kind

	// Renditions is sorted ascending by bandwidth; ids are unique.
	Renditions []types.Rendition

	IsLive bool

	// Duration is the total duration for VOD content; nil for live.
	Duration *time.Duration

	TargetDuration time.Duration

	BaseURL *url.URL
}

// Parser fetches a manifest document over HTTP and returns a Manifest;
// fetches a variant/representation document and returns its Segment
// sequence; and computes incremental deltas for live streams.
type Parser interface {
	Parse(ctx context.Context, manifestURL *url.URL) (*Manifest, error)
	ParseVariant(ctx context.Context, variantURL *url.URL) ([]types.Segment, error)
	GetLatestSegments(ctx context.Context, variantURL *url.URL, lastSequence uint64) ([]types.Segment, error)
}

// DetectKind classifies a manifest by URL suffix first, then content sniff,
// defaulting to HLS when neither test matches.
func DetectKind(manifestURL *url.URL, content string) Kind {
	path := strings.ToLower(manifestURL.Path)
	if strings.HasSuffix(path, ".m3u8") || strings.HasSuffix(path, ".m3u") {
		return KindHLS
	}
	if strings.HasSuffix(path, ".mpd") {
		return KindDASH
	}

	if content != "" {
		if strings.Contains(content, "#EXTM3U") {
			return KindHLS
		}
		if strings.Contains(content, "<MPD") || strings.Contains(content, "urn:mpeg:dash") {
			return KindDASH
		}
	}

	return KindHLS
}

// ParseVideoCodec maps an HLS/DASH CODECS token to a VideoCodec.
func ParseVideoCodec(codecs string) *types.VideoCodec {
	lower := strings.ToLower(codecs)
	var codec types.VideoCodec
	switch {
	case strings.Contains(lower, "avc1"), strings.Contains(lower, "avc3"):
		codec = types.VideoCodecH264
	case strings.Contains(lower, "hvc1"), strings.Contains(lower, "hev1"):
		codec = types.VideoCodecH265
	case strings.Contains(lower, "vp09"), strings.Contains(lower, "vp9"):
		codec = types.VideoCodecVP9
	case strings.Contains(lower, "av01"), strings.Contains(lower, "av1"):
		codec = types.VideoCodecAV1
	default:
		return nil
	}
	return &codec
}

// ParseAudioCodec maps an HLS/DASH CODECS token to an AudioCodec.
func ParseAudioCodec(codecs string) *types.AudioCodec {
	lower := strings.ToLower(codecs)
	var codec types.AudioCodec
	switch {
	case strings.Contains(lower, "mp4a.40"):
		codec = types.AudioCodecAAC
	case strings.Contains(lower, "ac-3"), strings.Contains(lower, "ac3"):
		codec = types.AudioCodecAC3
	case strings.Contains(lower, "ec-3"), strings.Contains(lower, "ec3"):
		codec = types.AudioCodecEAC3
	case strings.Contains(lower, "opus"):
		codec = types.AudioCodecOpus
	case strings.Contains(lower, "flac"):
		codec = types.AudioCodecFLAC
	default:
		return nil
	}
	return &codec
}

// ParserFactory constructs a Parser. It does no dispatch of its own:
// choosing the HLS or DASH implementation is left to the caller.
type ParserFactory func() Parser

// Fetcher retrieves the raw bytes of a manifest or variant document. Both
// the HLS and DASH parsers depend on this instead of an *http.Client
// directly, so callers can supply the retrying, S3-aware client from
// pkg/fetch without an import cycle.
type Fetcher interface {
	FetchText(ctx context.Context, docURL *url.URL) (string, error)
}

// Package hls implements parsing of HTTP Live Streaming master and media
// playlists: variant selection, segment enumeration, EXT-X-KEY encryption
// carry-forward, and discontinuity tracking.
package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// parseMaster reads a multivariant (master) playlist and returns its
// renditions, sorted ascending by bandwidth.
func parseMaster(content string, baseURL *url.URL) ([]types.Rendition, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var renditions []types.Rendition
	var pendingAttrs map[string]string
	idx := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pendingAttrs = parseAttributeList(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
		case !strings.HasPrefix(line, "#"):
			if pendingAttrs == nil {
				continue
			}
			rendition, err := renditionFromAttrs(pendingAttrs, line, baseURL, idx)
			if err != nil {
				return nil, err
			}
			renditions = append(renditions, rendition)
			idx++
			pendingAttrs = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewManifestParseError(fmt.Sprintf("failed to scan HLS master playlist: %v", err))
	}

	sort.Slice(renditions, func(i, j int) bool { return renditions[i].Bandwidth < renditions[j].Bandwidth })
	return renditions, nil
}

func renditionFromAttrs(attrs map[string]string, uriLine string, baseURL *url.URL, idx int) (types.Rendition, error) {
	uri, err := resolveURI(baseURL, uriLine)
	if err != nil {
		return types.Rendition{}, err
	}

	bandwidth, _ := strconv.ParseUint(attrs["BANDWIDTH"], 10, 64)

	rendition := types.Rendition{
		ID:        fmt.Sprintf("variant_%d", idx),
		Bandwidth: bandwidth,
		URI:       uri.String(),
	}

	if res, ok := attrs["RESOLUTION"]; ok {
		if w, h, ok := parseResolution(res); ok {
			rendition.Resolution = &types.Resolution{Width: w, Height: h}
		}
	}

	if fr, ok := attrs["FRAME-RATE"]; ok {
		if f, err := strconv.ParseFloat(fr, 32); err == nil {
			f32 := float32(f)
			rendition.FrameRate = &f32
		}
	}

	if codecs, ok := attrs["CODECS"]; ok {
		rendition.VideoCodec = manifest.ParseVideoCodec(codecs)
		rendition.AudioCodec = manifest.ParseAudioCodec(codecs)
	}

	if name, ok := attrs["VIDEO"]; ok {
		rendition.Name = &name
	}

	return rendition, nil
}

// parseAttributeList splits an HLS attribute-list string (comma-separated
// KEY=VALUE pairs, with quoted values possibly containing commas) into a
// map keyed by attribute name.
func parseAttributeList(s string) map[string]string {
	attrs := make(map[string]string)
	var key strings.Builder
	var val strings.Builder
	inQuotes := false
	inValue := false

	flush := func() {
		k := strings.TrimSpace(key.String())
		v := strings.Trim(strings.TrimSpace(val.String()), `"`)
		if k != "" {
			attrs[k] = v
		}
		key.Reset()
		val.Reset()
		inValue = false
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			if inValue {
				val.WriteRune(r)
			}
		case r == '=' && !inValue && !inQuotes:
			inValue = true
		case r == ',' && !inQuotes:
			flush()
		default:
			if inValue {
				val.WriteRune(r)
			} else {
				key.WriteRune(r)
			}
		}
	}
	flush()

	return attrs
}

func parseResolution(s string) (uint32, uint32, bool) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.ParseUint(parts[0], 10, 32)
	h, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(w), uint32(h), true
}

func resolveURI(base *url.URL, relative string) (*url.URL, error) {
	parsed, err := url.Parse(relative)
	if err != nil {
		return nil, errors.NewInvalidManifestError(fmt.Sprintf("invalid URI %q: %v", relative, err))
	}
	return base.ResolveReference(parsed), nil
}

package hls

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// mediaResult is the parsed form of a media (variant/rendition) playlist.
type mediaResult struct {
	Segments []types.Segment
	IsLive   bool
	Duration *time.Duration
}

// parseMedia reads a media playlist: segment durations, URIs, byte
// ranges, carried-forward encryption keys, and discontinuity markers.
func parseMedia(content string, baseURL *url.URL) (mediaResult, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var segments []types.Segment
	var currentEncryption *types.EncryptionInfo
	var currentByteRange *types.ByteRange
	var discontinuitySequence uint32
	var mediaSequence uint64
	var pendingDuration float64
	var havePendingDuration bool
	var endList bool
	idx := uint64(0)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			v, _ := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			mediaSequence = v

		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY"):
			discontinuitySequence++

		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			info, err := parseKeyAttributes(strings.TrimPrefix(line, "#EXT-X-KEY:"), baseURL)
			if err != nil {
				return mediaResult{}, err
			}
			currentEncryption = info

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			br, err := parseByteRange(strings.TrimPrefix(line, "#EXT-X-BYTERANGE:"))
			if err != nil {
				return mediaResult{}, err
			}
			currentByteRange = br

		case strings.HasPrefix(line, "#EXTINF:"):
			d, err := parseExtinf(strings.TrimPrefix(line, "#EXTINF:"))
			if err != nil {
				return mediaResult{}, err
			}
			pendingDuration = d
			havePendingDuration = true

		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			endList = true

		case !strings.HasPrefix(line, "#"):
			if !havePendingDuration {
				continue
			}
			uri, err := resolveURI(baseURL, line)
			if err != nil {
				return mediaResult{}, err
			}

			segments = append(segments, types.Segment{
				Number:                mediaSequence + idx,
				URI:                   uri.String(),
				Duration:              durationFromSeconds(pendingDuration),
				ByteRange:             currentByteRange,
				Encryption:            currentEncryption,
				DiscontinuitySequence: discontinuitySequence,
			})

			idx++
			havePendingDuration = false
			currentByteRange = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return mediaResult{}, errors.NewManifestParseError(fmt.Sprintf("failed to scan HLS media playlist: %v", err))
	}

	result := mediaResult{Segments: segments, IsLive: !endList}
	if endList {
		var total float64
		for _, s := range segments {
			total += s.Duration.Seconds()
		}
		d := durationFromSeconds(total)
		result.Duration = &d
	}
	return result, nil
}

func durationFromSeconds(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func parseExtinf(s string) (float64, error) {
	parts := strings.SplitN(s, ",", 2)
	d, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, errors.NewManifestParseError(fmt.Sprintf("invalid EXTINF duration %q: %v", parts[0], err))
	}
	return d, nil
}

func parseByteRange(s string) (*types.ByteRange, error) {
	parts := strings.SplitN(s, "@", 2)
	length, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return nil, errors.NewManifestParseError(fmt.Sprintf("invalid BYTERANGE %q: %v", s, err))
	}
	var start uint64
	if len(parts) == 2 {
		start, err = strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, errors.NewManifestParseError(fmt.Sprintf("invalid BYTERANGE offset %q: %v", s, err))
		}
	}
	return &types.ByteRange{Start: start, Length: length}, nil
}

// parseKeyAttributes turns an EXT-X-KEY attribute list into encryption
// info, or nil when METHOD=NONE (the carried-forward key is cleared).
func parseKeyAttributes(s string, baseURL *url.URL) (*types.EncryptionInfo, error) {
	attrs := parseAttributeList(s)

	method := attrs["METHOD"]
	var encMethod types.EncryptionMethod
	switch method {
	case "NONE", "":
		return nil, nil
	case "AES-128":
		encMethod = types.EncryptionAES128
	case "SAMPLE-AES":
		encMethod = types.EncryptionSampleAES
	case "SAMPLE-AES-CTR":
		encMethod = types.EncryptionSampleAESCTR
	default:
		return nil, nil
	}

	info := &types.EncryptionInfo{Method: encMethod}

	if uri, ok := attrs["URI"]; ok {
		resolved, err := resolveURI(baseURL, uri)
		if err != nil {
			return nil, err
		}
		s := resolved.String()
		info.KeyURI = &s
	}

	if ivHex, ok := attrs["IV"]; ok {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(ivHex, "0x"), "0X")
		iv, err := hex.DecodeString(trimmed)
		if err == nil {
			info.IV = iv
		}
	}

	if kf, ok := attrs["KEYFORMAT"]; ok {
		info.KeyFormat = &kf
	}

	return info, nil
}

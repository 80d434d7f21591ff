// Package captions parses WebVTT and SRT subtitle documents into the
// shared TextCue time model and converts between the two formats.
package captions

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// ParseWebVTT parses a WebVTT document into its cues, in document order.
func ParseWebVTT(input string) ([]types.TextCue, error) {
	lines := splitLines(input)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "WEBVTT") {
		return nil, errors.NewManifestParseError("invalid WebVTT: missing WEBVTT header")
	}
	lines = lines[1:]

	// Skip header metadata up to the first blank line.
	for len(lines) > 0 && lines[0] != "" {
		lines = lines[1:]
	}
	if len(lines) > 0 {
		lines = lines[1:]
	}

	var cues []types.TextCue
	cueNum := 0

	for len(lines) > 0 {
		for len(lines) > 0 && lines[0] == "" {
			lines = lines[1:]
		}
		if len(lines) == 0 {
			break
		}

		if strings.HasPrefix(lines[0], "NOTE") || strings.HasPrefix(lines[0], "STYLE") || strings.HasPrefix(lines[0], "REGION") {
			for len(lines) > 0 && lines[0] != "" {
				lines = lines[1:]
			}
			continue
		}

		var id string
		first := lines[0]
		lines = lines[1:]

		timingLine := first
		if !strings.Contains(first, "-->") {
			id = first
			if len(lines) == 0 {
				break
			}
			timingLine = lines[0]
			lines = lines[1:]
		}

		if !strings.Contains(timingLine, "-->") {
			continue
		}

		start, end, settings, err := parseVTTTimingLine(timingLine)
		if err != nil {
			return nil, err
		}

		var textLines []string
		for len(lines) > 0 && lines[0] != "" {
			textLines = append(textLines, lines[0])
			lines = lines[1:]
		}

		cueNum++
		if id == "" {
			id = fmt.Sprintf("cue-%d", cueNum)
		}

		cues = append(cues, types.TextCue{
			ID:        id,
			StartTime: start,
			EndTime:   end,
			Text:      strings.Join(textLines, "\n"),
			Settings:  settings,
		})
	}

	return cues, nil
}

func parseVTTTimingLine(line string) (float64, float64, *types.CueSettings, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, nil, errors.NewManifestParseError("invalid WebVTT timing line: " + line)
	}

	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, nil, err
	}

	endFields := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endFields) == 0 {
		return 0, 0, nil, errors.NewManifestParseError("invalid WebVTT timing line: " + line)
	}
	end, err := parseTimestamp(endFields[0])
	if err != nil {
		return 0, 0, nil, err
	}

	var settings *types.CueSettings
	if len(endFields) > 1 {
		settings = parseCueSettings(endFields[1:])
	}

	return start, end, settings, nil
}

func parseCueSettings(fields []string) *types.CueSettings {
	settings := &types.CueSettings{}
	for _, field := range fields {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		switch key {
		case "vertical":
			v := value
			settings.Vertical = &v
		case "line":
			if v, err := strconv.Atoi(value); err == nil {
				settings.Line = &v
			}
		case "position":
			if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64); err == nil {
				v := int(f)
				settings.Position = &v
			}
		case "size":
			if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64); err == nil {
				v := int(f)
				settings.Size = &v
			}
		case "align":
			var align types.CueAlignment
			switch value {
			case "start":
				align = types.AlignStart
			case "center", "middle":
				align = types.AlignCenter
			case "end":
				align = types.AlignEnd
			case "left":
				align = types.AlignLeft
			case "right":
				align = types.AlignRight
			default:
				continue
			}
			settings.Align = &align
		}
	}
	return settings
}

// ParseSRT parses a SubRip document into its cues.
func ParseSRT(input string) ([]types.TextCue, error) {
	lines := splitLines(input)

	var cues []types.TextCue

	for len(lines) > 0 {
		for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
			lines = lines[1:]
		}
		if len(lines) == 0 {
			break
		}

		cueNumber := strings.TrimSpace(lines[0])
		lines = lines[1:]
		if cueNumber == "" {
			continue
		}
		if len(lines) == 0 {
			break
		}

		timingLine := lines[0]
		lines = lines[1:]
		if !strings.Contains(timingLine, "-->") {
			continue
		}

		start, end, err := parseSRTTimingLine(timingLine)
		if err != nil {
			return nil, err
		}

		var textLines []string
		for len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
			textLines = append(textLines, lines[0])
			lines = lines[1:]
		}

		cues = append(cues, types.TextCue{
			ID:        "srt-" + cueNumber,
			StartTime: start,
			EndTime:   end,
			Text:      strings.Join(textLines, "\n"),
		})
	}

	return cues, nil
}

func parseSRTTimingLine(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, errors.NewManifestParseError("invalid SRT timing line: " + line)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts both "MM:SS.mmm" and "HH:MM:SS.mmm"/"HH:MM:SS,mmm".
func parseTimestamp(ts string) (float64, error) {
	parts := strings.Split(ts, ":")
	switch len(parts) {
	case 2:
		minutes, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, errors.NewManifestParseError("invalid minutes: " + parts[0])
		}
		seconds, err := parseSecondsField(parts[1])
		if err != nil {
			return 0, err
		}
		return minutes*60 + seconds, nil
	case 3:
		hours, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, errors.NewManifestParseError("invalid hours: " + parts[0])
		}
		minutes, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, errors.NewManifestParseError("invalid minutes: " + parts[1])
		}
		seconds, err := parseSecondsField(parts[2])
		if err != nil {
			return 0, err
		}
		return hours*3600 + minutes*60 + seconds, nil
	default:
		return 0, errors.NewManifestParseError("invalid timestamp: " + ts)
	}
}

func parseSecondsField(s string) (float64, error) {
	normalized := strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, errors.NewManifestParseError("invalid seconds: " + s)
	}
	return v, nil
}

// StripTags removes WebVTT/HTML-style markup tags from cue text.
func StripTags(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SRTToVTT converts an SRT document to WebVTT by swapping the comma
// decimal separator for a period and prefixing the WEBVTT header.
func SRTToVTT(srt string) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, line := range splitLines(srt) {
		if strings.Contains(line, "-->") {
			b.WriteString(strings.ReplaceAll(line, ",", "."))
		} else {
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// CuesAtTime returns every cue whose [StartTime, EndTime) window
// contains t.
func CuesAtTime(cues []types.TextCue, t float64) []types.TextCue {
	var active []types.TextCue
	for _, c := range cues {
		if c.IsActiveAt(t) {
			active = append(active, c)
		}
	}
	return active
}

func splitLines(s string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

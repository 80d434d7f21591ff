package captions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExpertVagabond/kino/pkg/types"
)

const simpleVTT = `WEBVTT

00:00:01.000 --> 00:00:04.000
Hello, world!

00:00:05.000 --> 00:00:08.500
Second line.
`

func TestParseWebVTT(t *testing.T) {
	cues, err := ParseWebVTT(simpleVTT)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	assert.Equal(t, 1.0, cues[0].StartTime)
	assert.Equal(t, 4.0, cues[0].EndTime)
	assert.Equal(t, "Hello, world!", cues[0].Text)

	assert.Equal(t, 5.0, cues[1].StartTime)
	assert.Equal(t, 8.5, cues[1].EndTime)
}

const vttWithSettings = `WEBVTT

cue-1
00:00:01.000 --> 00:00:04.000 position:50% size:80% align:center line:10
Centered caption.
`

func TestParseWebVTTWithSettings(t *testing.T) {
	cues, err := ParseWebVTT(vttWithSettings)
	require.NoError(t, err)
	require.Len(t, cues, 1)

	cue := cues[0]
	assert.Equal(t, "cue-1", cue.ID)
	require.NotNil(t, cue.Settings)
	require.NotNil(t, cue.Settings.Position)
	assert.Equal(t, 50, *cue.Settings.Position)
	require.NotNil(t, cue.Settings.Size)
	assert.Equal(t, 80, *cue.Settings.Size)
	require.NotNil(t, cue.Settings.Align)
	assert.Equal(t, types.AlignCenter, *cue.Settings.Align)
	require.NotNil(t, cue.Settings.Line)
	assert.Equal(t, 10, *cue.Settings.Line)
}

const simpleSRT = `1
00:00:01,000 --> 00:00:04,000
Hello, world!

2
00:00:05,000 --> 00:00:08,500
Second line.
`

func TestParseSRT(t *testing.T) {
	cues, err := ParseSRT(simpleSRT)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	assert.Equal(t, 1.0, cues[0].StartTime)
	assert.Equal(t, 4.0, cues[0].EndTime)
	assert.Equal(t, "Hello, world!", cues[0].Text)
	assert.Equal(t, "srt-1", cues[0].ID)

	assert.InDelta(t, 8.5, cues[1].EndTime, 0.001)
}

func TestTimestampParsing(t *testing.T) {
	v, err := parseTimestamp("00:01:30.500")
	require.NoError(t, err)
	assert.InDelta(t, 90.5, v, 0.001)

	v, err = parseTimestamp("01:30.500")
	require.NoError(t, err)
	assert.InDelta(t, 90.5, v, 0.001)

	v, err = parseTimestamp("00:00:02,250")
	require.NoError(t, err)
	assert.InDelta(t, 2.25, v, 0.001)
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Hello, world!", StripTags("<b>Hello</b>, <i>world!</i>"))
	assert.Equal(t, "plain text", StripTags("plain text"))
}

func TestSRTToVTT(t *testing.T) {
	vtt := SRTToVTT(simpleSRT)
	cues, err := ParseWebVTT(vtt)
	require.NoError(t, err)
	require.Len(t, cues, 2)
	assert.Equal(t, 1.0, cues[0].StartTime)
	assert.Equal(t, 4.0, cues[0].EndTime)
}

func TestCuesAtTime(t *testing.T) {
	cues, err := ParseWebVTT(simpleVTT)
	require.NoError(t, err)

	active := CuesAtTime(cues, 2.0)
	require.Len(t, active, 1)
	assert.Equal(t, "Hello, world!", active[0].Text)

	assert.Empty(t, CuesAtTime(cues, 4.5))
}

package hls

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/types"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.42e00a,mp4a.40.2"
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2",FRAME-RATE=29.97
mid/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
high/index.m3u8
`

const vodMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.0,
seg0.ts
#EXTINF:4.0,
seg1.ts
#EXTINF:3.5,
seg2.ts
#EXT-X-ENDLIST
`

const encryptedMediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x000000000000000000000000000001
#EXTINF:4.0,
seg100.ts
#EXTINF:4.0,
seg101.ts
#EXT-X-KEY:METHOD=NONE
#EXTINF:4.0,
seg102.ts
`

const liveMediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:4.0,
seg10.ts
#EXTINF:4.0,
seg11.ts
`

type fakeFetcher struct {
	byURL map[string]string
}

func (f fakeFetcher) FetchText(_ context.Context, u *url.URL) (string, error) {
	return f.byURL[u.String()], nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseMasterSortsByBandwidth(t *testing.T) {
	base := mustURL(t, "https://example.com/master.m3u8")
	renditions, err := parseMaster(masterPlaylist, base)
	require.NoError(t, err)
	require.Len(t, renditions, 3)

	assert.Equal(t, uint64(800000), renditions[0].Bandwidth)
	assert.Equal(t, uint64(2800000), renditions[1].Bandwidth)
	assert.Equal(t, uint64(5000000), renditions[2].Bandwidth)

	assert.Equal(t, "variant_0", renditions[0].ID)
	require.NotNil(t, renditions[1].Resolution)
	assert.Equal(t, uint32(1280), renditions[1].Resolution.Width)
	require.NotNil(t, renditions[1].FrameRate)
	assert.InDelta(t, 29.97, float64(*renditions[1].FrameRate), 0.01)
	require.NotNil(t, renditions[0].VideoCodec)
	assert.Equal(t, types.VideoCodecH264, *renditions[0].VideoCodec)
}

func TestParseMediaVOD(t *testing.T) {
	base := mustURL(t, "https://example.com/low/index.m3u8")
	result, err := parseMedia(vodMediaPlaylist, base)
	require.NoError(t, err)

	require.False(t, result.IsLive)
	require.NotNil(t, result.Duration)
	assert.InDelta(t, 11.5, result.Duration.Seconds(), 0.01)
	require.Len(t, result.Segments, 3)
	assert.Equal(t, uint64(0), result.Segments[0].Number)
	assert.Equal(t, uint64(2), result.Segments[2].Number)
}

func TestParseMediaEncryptionCarriesForward(t *testing.T) {
	base := mustURL(t, "https://example.com/high/index.m3u8")
	result, err := parseMedia(encryptedMediaPlaylist, base)
	require.NoError(t, err)
	require.Len(t, result.Segments, 3)

	require.NotNil(t, result.Segments[0].Encryption)
	assert.Equal(t, types.EncryptionAES128, result.Segments[0].Encryption.Method)
	require.NotNil(t, result.Segments[1].Encryption)
	assert.Equal(t, types.EncryptionAES128, result.Segments[1].Encryption.Method)

	assert.Nil(t, result.Segments[2].Encryption)

	assert.Equal(t, uint64(100), result.Segments[0].Number)
}

func TestParseMediaLiveHasNoDuration(t *testing.T) {
	base := mustURL(t, "https://example.com/live/index.m3u8")
	result, err := parseMedia(liveMediaPlaylist, base)
	require.NoError(t, err)
	assert.True(t, result.IsLive)
	assert.Nil(t, result.Duration)
	assert.Equal(t, uint64(10), result.Segments[0].Number)
}

func TestParserParseMaster(t *testing.T) {
	masterURL := mustURL(t, "https://example.com/master.m3u8")
	fetcher := fakeFetcher{byURL: map[string]string{masterURL.String(): masterPlaylist}}

	parser := New(fetcher)
	m, err := parser.Parse(context.Background(), masterURL)
	require.NoError(t, err)
	assert.Equal(t, manifest.KindHLS, m.Kind)
	assert.Len(t, m.Renditions, 3)
}

func TestParserMasterWithNoVariantsIsInvalidManifest(t *testing.T) {
	// Carries #EXT-X-STREAM-INF but no following URI line, so parseMaster
	// yields zero renditions from a document the Parse-level sniff still
	// classifies as a master playlist.
	const emptyMaster = "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\n"
	masterURL := mustURL(t, "https://example.com/empty-master.m3u8")
	fetcher := fakeFetcher{byURL: map[string]string{masterURL.String(): emptyMaster}}

	parser := New(fetcher)
	m, err := parser.Parse(context.Background(), masterURL)
	require.Error(t, err)
	assert.Nil(t, m)

	var kinoErr *errors.Error
	require.ErrorAs(t, err, &kinoErr)
	assert.Equal(t, errors.CodeInvalidManifest, kinoErr.Code)
}

func TestParserBareManifestWithNoSegmentsIsInvalidManifest(t *testing.T) {
	const bare = "#EXTM3U\n#EXT-X-VERSION:3\n"
	manifestURL := mustURL(t, "https://example.com/empty.m3u8")
	fetcher := fakeFetcher{byURL: map[string]string{manifestURL.String(): bare}}

	parser := New(fetcher)
	m, err := parser.Parse(context.Background(), manifestURL)
	require.Error(t, err)
	assert.Nil(t, m)

	var kinoErr *errors.Error
	require.ErrorAs(t, err, &kinoErr)
	assert.Equal(t, errors.CodeInvalidManifest, kinoErr.Code)
}

func TestParserGetLatestSegmentsFiltersBySequence(t *testing.T) {
	variantURL := mustURL(t, "https://example.com/low/index.m3u8")
	fetcher := fakeFetcher{byURL: map[string]string{variantURL.String(): vodMediaPlaylist}}

	parser := New(fetcher)
	fresh, err := parser.GetLatestSegments(context.Background(), variantURL, 0)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, uint64(1), fresh[0].Number)
	assert.Equal(t, uint64(2), fresh[1].Number)
}

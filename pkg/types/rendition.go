package types

// VideoCodec identifies a negotiated video codec.
type VideoCodec string

const (
	VideoCodecH264 VideoCodec = "h264"
	VideoCodecH265 VideoCodec = "h265"
	VideoCodecVP9  VideoCodec = "vp9"
	VideoCodecAV1  VideoCodec = "av1"
)

// AudioCodec identifies a negotiated audio codec.
type AudioCodec string

const (
	AudioCodecAAC  AudioCodec = "aac"
	AudioCodecAC3  AudioCodec = "ac3"
	AudioCodecEAC3 AudioCodec = "eac3"
	AudioCodecOpus AudioCodec = "opus"
	AudioCodecFLAC AudioCodec = "flac"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Rendition is one encoding of the content at a single quality level
// (an HLS "variant" or a DASH "representation").
type Rendition struct {
	// ID is a stable, unique identifier within the owning Manifest.
	ID string

	// Bandwidth is the advertised bitrate in bits per second.
	Bandwidth uint64

	Resolution *Resolution
	FrameRate  *float32

	VideoCodec *VideoCodec
	AudioCodec *AudioCodec

	// URI is the variant/representation playlist or segment template URL,
	// already resolved against the manifest's base URL.
	URI string

	HDR      *string
	Language *string
	Name     *string
}

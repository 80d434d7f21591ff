// Package dash implements parsing of MPEG-DASH media presentation
// descriptions: representation extraction, SegmentTemplate/SegmentList
// segment enumeration, and live/VOD duration handling.
package dash

import "encoding/xml"

type mpd struct {
	XMLName                   xml.Name        `xml:"MPD"`
	Type                      string          `xml:"type,attr"`
	MediaPresentationDuration string         `xml:"mediaPresentationDuration,attr"`
	MaxSegmentDuration        string          `xml:"maxSegmentDuration,attr"`
	BaseURL                   string          `xml:"BaseURL"`
	Periods                   []mpdPeriod     `xml:"Period"`
}

type mpdPeriod struct {
	BaseURL        string              `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet  `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	BaseURL         string            `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	Bandwidth       uint64              `xml:"bandwidth,attr"`
	Width           *uint32             `xml:"width,attr"`
	Height          *uint32             `xml:"height,attr"`
	Codecs          string              `xml:"codecs,attr"`
	FrameRate       string              `xml:"frameRate,attr"`
	BaseURL         string              `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *mpdSegmentList     `xml:"SegmentList"`
}

type mpdSegmentTemplate struct {
	Media          string  `xml:"media,attr"`
	Initialization string  `xml:"initialization,attr"`
	Timescale      uint64  `xml:"timescale,attr"`
	Duration       uint64  `xml:"duration,attr"`
	StartNumber    *uint64 `xml:"startNumber,attr"`
}

type mpdSegmentList struct {
	Duration    uint64           `xml:"duration,attr"`
	SegmentURLs []mpdSegmentURL  `xml:"SegmentURL"`
}

type mpdSegmentURL struct {
	Media string `xml:"media,attr"`
}

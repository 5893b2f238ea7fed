package hikvision

import "encoding/xml"

// ISAPI XML wire types for content search and channel listing.

// CMSearchDescription is the request body for /ISAPI/ContentMgmt/search.
type CMSearchDescription struct {
	XMLName              xml.Name       `xml:"CMSearchDescription"`
	SearchID             string         `xml:"searchID"`
	TrackIDList          TrackIDList    `xml:"trackIDList"`
	TimeSpanList         TimeSpanList   `xml:"timeSpanList"`
	MaxResults           int            `xml:"maxResults"`
	SearchResultPosition int            `xml:"searchResultPosition"`
	MetadataList         MetadataList   `xml:"metadataList"`
}

type TrackIDList struct {
	TrackID int `xml:"trackID"`
}

type TimeSpanList struct {
	TimeSpan TimeSpan `xml:"timeSpan"`
}

type TimeSpan struct {
	StartTime string `xml:"startTime"`
	EndTime   string `xml:"endTime"`
}

type MetadataList struct {
	MetadataDescriptor string `xml:"metadataDescriptor"`
}

// CMSearchResult is the response body from /ISAPI/ContentMgmt/search.
type CMSearchResult struct {
	XMLName            xml.Name    `xml:"CMSearchResult"`
	ResponseStatus     bool        `xml:"responseStatus"`
	ResponseStatusStrg string      `xml:"responseStatusStrg"` // "OK", "MORE", "NO MATCHES"
	NumOfMatches       int         `xml:"numOfMatches"`
	MatchList          []MatchItem `xml:"matchList>searchMatchItem"`
}

type MatchItem struct {
	SourceID               string                 `xml:"sourceID"`
	TrackID                int                    `xml:"trackID"`
	TimeSpan               TimeSpan               `xml:"timeSpan"`
	MediaSegmentDescriptor MediaSegmentDescriptor `xml:"mediaSegmentDescriptor"`
}

type MediaSegmentDescriptor struct {
	ContentType string `xml:"contentType"`
	CodecType   string `xml:"codecType"`
	PlaybackURI string `xml:"playbackURI"`
}

// VideoInputChannelList is the response from
// /ISAPI/System/Video/inputs/channels.
type VideoInputChannelList struct {
	XMLName  xml.Name            `xml:"VideoInputChannelList"`
	Channels []VideoInputChannel `xml:"VideoInputChannel"`
}

type VideoInputChannel struct {
	ID   int    `xml:"id"`
	Name string `xml:"name"`
}

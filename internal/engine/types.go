package engine

import "errors"

// Acquisition failure classes reported by source collaborators.
var (
	ErrUnavailable = errors.New("video unavailable")
	ErrRestricted  = errors.New("video restricted")
	ErrNotFound    = errors.New("video not found")
)

// VideoRequest pairs a submitted URL with its stable identity.
type VideoRequest struct {
	RawURL  string `json:"raw_url"`
	VideoID string `json:"video_id"`
}

// NewVideoRequest derives the video identity for rawURL.
func NewVideoRequest(rawURL string) VideoRequest {
	return VideoRequest{RawURL: rawURL, VideoID: VideoID(rawURL)}
}

// MediaHandle is a locally available copy of a video.
type MediaHandle struct {
	VideoID   string `json:"video_id"`
	SourceURL string `json:"source_url"`
	Path      string `json:"path"`
	MIMEType  string `json:"mime_type"`
}

// AudioHandle is the audio track extracted from a MediaHandle.
type AudioHandle struct {
	VideoID string `json:"video_id"`
	Path    string `json:"path"`
}

// ChannelMeta is the scraped identity and about-page data of a channel.
type ChannelMeta struct {
	Name         string        `json:"channel_name"`
	ID           string        `json:"channel_id,omitempty"`
	URL          string        `json:"channel_url"`
	Description  string        `json:"description,omitempty"`
	Keywords     string        `json:"keywords,omitempty"`
	Country      string        `json:"country,omitempty"`
	Joined       string        `json:"joined,omitempty"`
	Subscribers  string        `json:"subscriber_count,omitempty"`
	VideoCount   string        `json:"video_count,omitempty"`
	ViewCount    string        `json:"view_count,omitempty"`
	Links        []ChannelLink `json:"links,omitempty"`
	RecentTitles []string      `json:"recent_titles,omitempty"`
	Mentions     []string      `json:"social_mentions,omitempty"`
}

// ChannelLink is an external link listed on a channel's about page.
type ChannelLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ChannelReport is the channel-reputation collaborator's output.
type ChannelReport struct {
	Meta       ChannelMeta `json:"meta"`
	Assessment string      `json:"assessment"`
}

// FactSource is one web source judged against a transcript.
type FactSource struct {
	URL        string `json:"url"`
	Assessment string `json:"assessment"`
	Supports   bool   `json:"increases_legitimacy"`
}

// FactReport is the fact-search collaborator's output.
type FactReport struct {
	Sources []FactSource `json:"results"`
	Summary string       `json:"summary"`
}

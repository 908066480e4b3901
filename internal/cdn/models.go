package cdn

import (
	"fmt"
	"strings"
	"time"
)

// DeviceType is the client device class reported in the x-device-type header.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceSmartTV DeviceType = "smarttv"
	DeviceDesktop DeviceType = "desktop"
)

// ParseDeviceType normalises a header value. Unknown or empty classes map to
// desktop, which carries the unrestricted quality cap.
func ParseDeviceType(s string) DeviceType {
	switch d := DeviceType(strings.ToLower(strings.TrimSpace(s))); d {
	case DeviceMobile, DeviceTablet, DeviceSmartTV, DeviceDesktop:
		return d
	default:
		return DeviceDesktop
	}
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// QualityLevel is one rung of the encoding ladder. ID is a dense 0-based index
// in ascending bitrate order.
type QualityLevel struct {
	ID         int        `json:"id"`
	Bitrate    int        `json:"bitrate"`
	Resolution Resolution `json:"resolution"`
	FPS        int        `json:"fps"`
	Codec      string     `json:"codec"`
}

// AudioTrack is an alternate audio rendition advertised in the master playlist.
type AudioTrack struct {
	Language string `json:"language"`
	Name     string `json:"name"`
	Default  bool   `json:"default"`
}

// Session is created on the first master playlist request for a session id.
type Session struct {
	ID         string     `json:"sessionId"`
	ContentID  string     `json:"contentId"`
	DeviceType DeviceType `json:"deviceType"`
	StartTime  time.Time  `json:"startTime"`
	EdgeID     string     `json:"assignedEdge"`
	// SelectedQualityIDs are the rungs offered at creation time.
	SelectedQualityIDs []int `json:"selectedQualityIds"`
	// PlayedQualityIDs are appended from quality_switch analytics events.
	PlayedQualityIDs []int `json:"playedQualityIds,omitempty"`
}

// Well-known analytics event types.
const (
	EventRebuffer         = "rebuffer"
	EventQualitySwitch    = "quality_switch"
	EventSegmentDelivered = "segment_delivered"
)

// AnalyticsEvent is an append-only log entry. Fields carries whatever the
// client sent besides the envelope.
type AnalyticsEvent struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"sessionId"`
	ServerTime time.Time      `json:"serverTime"`
	Edge       string         `json:"edge,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Float returns a numeric client field, accepting JSON numbers and numeric strings.
func (e AnalyticsEvent) Float(key string) (float64, bool) {
	return toFloat(e.Fields[key])
}

// ParseAudioTracks reads "lang:name[:default]" entries.
func ParseAudioTracks(entries []string) ([]AudioTrack, error) {
	out := make([]AudioTrack, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) < 2 || len(parts) > 3 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("audio track %q: want lang:name[:default]", e)
		}
		t := AudioTrack{Language: strings.TrimSpace(parts[0]), Name: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			if strings.TrimSpace(parts[2]) != "default" {
				return nil, fmt.Errorf("audio track %q: unknown flag %q", e, parts[2])
			}
			t.Default = true
		}
		out = append(out, t)
	}
	return out, nil
}

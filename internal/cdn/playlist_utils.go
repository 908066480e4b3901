package cdn

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

const (
	// DefaultSegmentDuration is the nominal length of every synthetic segment, in seconds.
	DefaultSegmentDuration = 6.0
	// VODSegmentCount is the length of a VOD variant playlist.
	VODSegmentCount = 100
	// LiveSegmentCount is the length of a live variant playlist window.
	LiveSegmentCount = 10

	audioGroupID      = "audio"
	audioCodec        = "mp4a.40.2"
	edgeSessionDataID = "com.cdnsim.edge"
)

// Segment is one entry of a media playlist.
type Segment struct {
	Sequence int64
	Duration float64
	Path     string
}

// BuildMasterManifest renders the multivariant playlist: edge session data,
// one EXT-X-MEDIA per audio track and one EXT-X-STREAM-INF per quality with
// URI video/{id}/index.m3u8, relative to the master playlist.
func BuildMasterManifest(qualities []QualityLevel, edge Edge, audioTracks []AudioTrack) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:6\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	b.WriteString(fmt.Sprintf("#EXT-X-SESSION-DATA:DATA-ID=%q,VALUE=%q\n", edgeSessionDataID, edge.Location))

	if len(audioTracks) > 0 {
		b.WriteString("\n")
	}
	for _, a := range audioTracks {
		b.WriteString(fmt.Sprintf("#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,LANGUAGE=%q,NAME=%q,DEFAULT=%s,AUTOSELECT=YES\n",
			audioGroupID, a.Language, a.Name, yesNo(a.Default)))
	}

	for _, q := range qualities {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,FRAME-RATE=%.3f,CODECS=\"%s,%s\"",
			q.Bitrate, q.Resolution.Width, q.Resolution.Height, float64(q.FPS), q.Codec, audioCodec))
		if len(audioTracks) > 0 {
			b.WriteString(fmt.Sprintf(",AUDIO=%q", audioGroupID))
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("video/%d/index.m3u8\n", q.ID))
	}

	return b.String()
}

// BuildVariantManifest renders the media playlist of one quality. VOD playlists
// list VODSegmentCount segments and end with EXT-X-ENDLIST; live playlists list
// a LiveSegmentCount window and stay open. A non-positive segmentDuration means
// DefaultSegmentDuration.
func BuildVariantManifest(contentID string, qualityID int, live bool, segmentDuration float64) string {
	if segmentDuration <= 0 {
		segmentDuration = DefaultSegmentDuration
	}
	count := VODSegmentCount
	if live {
		count = LiveSegmentCount
	}

	segments := make([]Segment, count)
	for i := range segments {
		segments[i] = Segment{
			Sequence: int64(i),
			Duration: segmentDuration,
			Path:     SegmentPath(contentID, qualityID, i),
		}
	}
	return buildMediaPlaylist(segments, !live)
}

// SegmentPath is the absolute URI of a synthetic segment.
func SegmentPath(contentID string, qualityID, index int) string {
	return fmt.Sprintf("/segment/%s/%d/%d.ts", url.PathEscape(contentID), qualityID, index)
}

// buildMediaPlaylist converts a slice of segments (ordered by sequence ascending)
// into a media playlist. vod marks the playlist type and appends #EXT-X-ENDLIST.
func buildMediaPlaylist(segments []Segment, vod bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDurationFromSegments(segments)))

	var mediaSequence int64
	if len(segments) > 0 {
		mediaSequence = segments[0].Sequence
	}
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence))
	if vod {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}
	b.WriteString("\n")

	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", seg.Duration))
		b.WriteString(seg.Path)
		b.WriteString("\n")
	}

	if vod {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// targetDurationFromSegments returns the HLS #EXT-X-TARGETDURATION value:
// the ceiling of the maximum segment duration in seconds (integer).
func targetDurationFromSegments(segments []Segment) int {
	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

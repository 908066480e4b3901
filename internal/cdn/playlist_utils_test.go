package cdn

import (
	"strings"
	"testing"

	"github.com/grafov/m3u8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEdge = Edge{ID: "eu-west-1", Location: "Dublin, IE", Capacity: 2, Status: EdgeHealthy}

var testAudio = []AudioTrack{
	{Language: "en", Name: "English", Default: true},
	{Language: "es", Name: "Spanish"},
}

func TestBuildMasterManifest_header_and_session_data(t *testing.T) {
	out := BuildMasterManifest(DefaultLadder()[:2], testEdge, testAudio)

	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n"))
	assert.Contains(t, out, "#EXT-X-VERSION:6")
	assert.Contains(t, out, `#EXT-X-SESSION-DATA:DATA-ID="com.cdnsim.edge",VALUE="Dublin, IE"`)
	assert.Contains(t, out, `LANGUAGE="en",NAME="English",DEFAULT=YES`)
	assert.Contains(t, out, `LANGUAGE="es",NAME="Spanish",DEFAULT=NO`)
}

func TestBuildMasterManifest_one_stream_per_quality(t *testing.T) {
	qualities := FilterQualities(DefaultLadder(), DeviceMobile, 1e9)
	out := BuildMasterManifest(qualities, testEdge, testAudio)

	assert.Equal(t, len(qualities), strings.Count(out, "#EXT-X-STREAM-INF:"))
	assert.Contains(t, out, "BANDWIDTH=8000000,RESOLUTION=1920x1080,FRAME-RATE=30.000,CODECS=\"avc1.640028,mp4a.40.2\",AUDIO=\"audio\"\nvideo/5/index.m3u8\n")
	assert.NotContains(t, out, "video/6/index.m3u8")
}

func TestBuildMasterManifest_no_audio_tracks(t *testing.T) {
	out := BuildMasterManifest(DefaultLadder()[:1], testEdge, nil)
	assert.NotContains(t, out, "#EXT-X-MEDIA:")
	assert.NotContains(t, out, "AUDIO=")
}

func TestBuildMasterManifest_decodes(t *testing.T) {
	out := BuildMasterManifest(DefaultLadder(), testEdge, testAudio)

	p, listType, err := m3u8.DecodeFrom(strings.NewReader(out), false)
	require.NoError(t, err)
	require.Equal(t, m3u8.MASTER, listType)

	master := p.(*m3u8.MasterPlaylist)
	require.Len(t, master.Variants, 8)
	assert.Equal(t, "video/0/index.m3u8", master.Variants[0].URI)
	assert.EqualValues(t, 400_000, master.Variants[0].Bandwidth)
	assert.Equal(t, "3840x2160", master.Variants[7].Resolution)
}

func TestBuildVariantManifest_vod(t *testing.T) {
	out := BuildVariantManifest("movie-1", 3, false, 0)

	assert.Equal(t, VODSegmentCount, strings.Count(out, "#EXTINF:"))
	assert.Equal(t, VODSegmentCount, strings.Count(out, "#EXTINF:6.000,"))
	assert.True(t, strings.HasSuffix(out, "#EXT-X-ENDLIST\n"))
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:6")
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:0")
	assert.Contains(t, out, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, out, "/segment/movie-1/3/0.ts\n")
	assert.Contains(t, out, "/segment/movie-1/3/99.ts\n")
	assert.NotContains(t, out, "/segment/movie-1/3/100.ts")
}

func TestBuildVariantManifest_live(t *testing.T) {
	out := BuildVariantManifest("channel", 0, true, DefaultSegmentDuration)

	assert.Equal(t, LiveSegmentCount, strings.Count(out, "#EXTINF:"))
	assert.NotContains(t, out, "#EXT-X-ENDLIST")
	assert.NotContains(t, out, "#EXT-X-PLAYLIST-TYPE")
	assert.Contains(t, out, "/segment/channel/0/9.ts\n")
}

func TestBuildVariantManifest_target_duration_ceiling(t *testing.T) {
	out := BuildVariantManifest("c", 0, true, 4.2)
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:5")
	assert.Contains(t, out, "#EXTINF:4.200,")
}

func TestBuildVariantManifest_escapes_content_id(t *testing.T) {
	out := BuildVariantManifest("my show", 1, true, 6)
	assert.Contains(t, out, "/segment/my%20show/1/0.ts")
}

func TestBuildVariantManifest_decodes(t *testing.T) {
	for _, live := range []bool{false, true} {
		out := BuildVariantManifest("movie-1", 2, live, 6)

		p, listType, err := m3u8.DecodeFrom(strings.NewReader(out), false)
		require.NoError(t, err)
		require.Equal(t, m3u8.MEDIA, listType)

		media := p.(*m3u8.MediaPlaylist)
		want := VODSegmentCount
		if live {
			want = LiveSegmentCount
		}
		assert.EqualValues(t, want, media.Count(), "live=%v", live)
		assert.Equal(t, !live, media.Closed, "live=%v", live)
		assert.EqualValues(t, 0, media.SeqNo)
	}
}

func TestTargetDurationFromSegments_empty(t *testing.T) {
	assert.Equal(t, 1, targetDurationFromSegments(nil))
}

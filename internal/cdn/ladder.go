package cdn

// bandwidthHeadroom lets a rung through when its bitrate is within 1.5x of the
// client's estimate.
const bandwidthHeadroom = 1.5

// MaxQualityIDUnrestricted is the highest id of the default ladder.
const MaxQualityIDUnrestricted = 7

var defaultLadder = []QualityLevel{
	{ID: 0, Bitrate: 400_000, Resolution: Resolution{416, 234}, FPS: 30, Codec: "avc1.42e00a"},
	{ID: 1, Bitrate: 800_000, Resolution: Resolution{640, 360}, FPS: 30, Codec: "avc1.4d401e"},
	{ID: 2, Bitrate: 1_400_000, Resolution: Resolution{854, 480}, FPS: 30, Codec: "avc1.4d401f"},
	{ID: 3, Bitrate: 2_800_000, Resolution: Resolution{1280, 720}, FPS: 30, Codec: "avc1.4d401f"},
	{ID: 4, Bitrate: 5_000_000, Resolution: Resolution{1280, 720}, FPS: 60, Codec: "avc1.4d4020"},
	{ID: 5, Bitrate: 8_000_000, Resolution: Resolution{1920, 1080}, FPS: 30, Codec: "avc1.640028"},
	{ID: 6, Bitrate: 12_000_000, Resolution: Resolution{1920, 1080}, FPS: 60, Codec: "avc1.64002a"},
	{ID: 7, Bitrate: 25_000_000, Resolution: Resolution{3840, 2160}, FPS: 30, Codec: "hvc1.2.4.L150.B0"},
}

// DefaultLadder returns a copy of the built-in 8 rung ladder.
func DefaultLadder() []QualityLevel {
	out := make([]QualityLevel, len(defaultLadder))
	copy(out, defaultLadder)
	return out
}

// Lookup returns the rung with the given id.
func Lookup(ladder []QualityLevel, id int) (QualityLevel, bool) {
	if id < 0 || id >= len(ladder) || ladder[id].ID != id {
		for _, q := range ladder {
			if q.ID == id {
				return q, true
			}
		}
		return QualityLevel{}, false
	}
	return ladder[id], true
}

// MaxQualityID is the inclusive id cap for a device class.
func MaxQualityID(device DeviceType) int {
	switch device {
	case DeviceMobile:
		return 5
	case DeviceTablet:
		return 6
	default:
		return MaxQualityIDUnrestricted
	}
}

// FilterQualities returns the rungs a device may play at the given bandwidth,
// in ladder order. The result is empty when the bandwidth is too low for
// every rung.
func FilterQualities(ladder []QualityLevel, device DeviceType, bandwidthBps float64) []QualityLevel {
	maxID := MaxQualityID(device)
	budget := bandwidthBps * bandwidthHeadroom

	out := make([]QualityLevel, 0, len(ladder))
	for _, q := range ladder {
		if q.ID > maxID {
			continue
		}
		if float64(q.Bitrate) > budget {
			continue
		}
		out = append(out, q)
	}
	return out
}

// OfferedQualities is FilterQualities with a floor: when nothing fits, the
// lowest rung is offered so the master playlist always has a variant.
func OfferedQualities(ladder []QualityLevel, device DeviceType, bandwidthBps float64) []QualityLevel {
	out := FilterQualities(ladder, device, bandwidthBps)
	if len(out) == 0 && len(ladder) > 0 {
		out = append(out, ladder[0])
	}
	return out
}

// RecommendedQuality returns the highest id whose bitrate does not exceed the
// estimate, or the lowest id when none does.
func RecommendedQuality(ladder []QualityLevel, bandwidthBps float64) int {
	if len(ladder) == 0 {
		return 0
	}
	best := ladder[0].ID
	for _, q := range ladder {
		if float64(q.Bitrate) <= bandwidthBps {
			best = q.ID
		}
	}
	return best
}

// QualityIDs projects a slice of rungs to their ids.
func QualityIDs(levels []QualityLevel) []int {
	ids := make([]int, len(levels))
	for i, q := range levels {
		ids[i] = q.ID
	}
	return ids
}

package cdn

import (
	"encoding/json"
	"strconv"
)

const (
	// NeutralQoE is reported for sessions the store has never seen.
	NeutralQoE = 3.0
	maxQoE     = 5.0

	rebufferPenalty      = 0.5
	qualitySwitchPenalty = 0.1
	qualityBonus         = 0.5

	lowBandwidthBps  = 1_000_000
	highBandwidthBps = 10_000_000
)

// Recommendation texts returned with QoE scores.
const (
	RecommendLowerQuality = "Bandwidth is low: consider lowering the playback quality to avoid rebuffering"
	Recommend4K           = "Bandwidth supports 4K playback"
)

// ComputeQoE scores a session on a 0..5 scale:
//
//	5 - 0.5*rebuffers - 0.1*quality switches + 0.5*(average quality id / 7)
//
// The average uses the qualities reported as played when there are any and
// falls back to the qualities offered at session creation. A nil session
// scores NeutralQoE.
func ComputeQoE(s *Session, events []AnalyticsEvent) float64 {
	if s == nil {
		return NeutralQoE
	}

	var rebuffers, switches int
	for _, e := range events {
		if e.SessionID != s.ID {
			continue
		}
		switch e.Type {
		case EventRebuffer:
			rebuffers++
		case EventQualitySwitch:
			switches++
		}
	}

	ids := s.PlayedQualityIDs
	if len(ids) == 0 {
		ids = s.SelectedQualityIDs
	}

	score := maxQoE -
		rebufferPenalty*float64(rebuffers) -
		qualitySwitchPenalty*float64(switches) +
		qualityBonus*(average(ids)/MaxQualityIDUnrestricted)

	return clamp(score, 0, maxQoE)
}

// Recommendations returns advisory text for a bandwidth estimate. Nothing is
// suggested when the estimate is unknown.
func Recommendations(bandwidthBps float64, known bool) []string {
	out := []string{}
	if !known {
		return out
	}
	if bandwidthBps < lowBandwidthBps {
		out = append(out, RecommendLowerQuality)
	}
	if bandwidthBps > highBandwidthBps {
		out = append(out, Recommend4K)
	}
	return out
}

func average(ids []int) float64 {
	if len(ids) == 0 {
		return 0
	}
	sum := 0
	for _, id := range ids {
		sum += id
	}
	return float64(sum) / float64(len(ids))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

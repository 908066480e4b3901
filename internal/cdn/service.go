package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownQuality is returned for a quality id outside the ladder.
	ErrUnknownQuality = errors.New("unknown quality level")
	// ErrInvalidSegment is returned for a negative segment index.
	ErrInvalidSegment = errors.New("invalid segment index")
	// ErrMissingEventType is returned when an analytics event has no type.
	ErrMissingEventType = errors.New("analytics event is missing a type")
	// ErrMissingSessionID is returned when analytics cannot be tied to a session.
	ErrMissingSessionID = errors.New("missing session id")
	// ErrMissingField is returned when a required request field is empty.
	ErrMissingField = errors.New("missing required field")
)

// Options configures a Service. Zero values fall back to the built-in defaults.
type Options struct {
	Ladder              []QualityLevel
	Edges               []Edge
	Selector            EdgeSelector
	AudioTracks         []AudioTrack
	SegmentDuration     float64
	DefaultBandwidthBps float64
	Validator           *TokenValidator
	Logger              *slog.Logger
}

// DefaultAudioTracks are English (default) and Spanish.
func DefaultAudioTracks() []AudioTrack {
	return []AudioTrack{
		{Language: "en", Name: "English", Default: true},
		{Language: "es", Name: "Spanish"},
	}
}

// Service wires the ladder, manifests, segments, store and QoE together.
type Service struct {
	repo             *Repository
	ladder           []QualityLevel
	edges            []Edge
	selector         EdgeSelector
	audio            []AudioTrack
	segmentDuration  float64
	defaultBandwidth float64
	validator        *TokenValidator
	log              *slog.Logger
	started          time.Time
	now              func() time.Time
	newID            func() string
}

// NewService returns a Service over repo.
func NewService(repo *Repository, opts Options) *Service {
	s := &Service{
		repo:             repo,
		ladder:           opts.Ladder,
		edges:            opts.Edges,
		selector:         opts.Selector,
		audio:            opts.AudioTracks,
		segmentDuration:  opts.SegmentDuration,
		defaultBandwidth: opts.DefaultBandwidthBps,
		validator:        opts.Validator,
		log:              opts.Logger,
		now:              time.Now,
		newID:            uuid.NewString,
	}
	if len(s.ladder) == 0 {
		s.ladder = DefaultLadder()
	}
	if len(s.edges) == 0 {
		s.edges = DefaultEdges()
	}
	if s.selector == nil {
		s.selector = NewRoundRobinSelector(s.edges)
	}
	if s.audio == nil {
		s.audio = DefaultAudioTracks()
	}
	if s.segmentDuration <= 0 {
		s.segmentDuration = DefaultSegmentDuration
	}
	if s.defaultBandwidth <= 0 {
		s.defaultBandwidth = 5_000_000
	}
	if s.validator == nil {
		s.validator = NewTokenValidator(map[string]Tier{"demo-token": TierPremium}, "cdnsim-dev-secret", time.Hour, s.ladder)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.started = s.now()
	return s
}

// Ladder returns the quality ladder in use.
func (s *Service) Ladder() []QualityLevel {
	return s.ladder
}

// MasterRequest carries the inputs of a master playlist request.
type MasterRequest struct {
	ContentID string
	Device    DeviceType
	// BandwidthBps is the client's estimate. It is only read when
	// HasBandwidth is set; otherwise the configured default applies.
	BandwidthBps float64
	HasBandwidth bool
	// SessionID empty means a new session id is minted.
	SessionID string
}

// MasterResult is a rendered master playlist and the session it belongs to.
type MasterResult struct {
	Playlist string
	Session  Session
	Edge     Edge
	Created  bool
}

// MasterManifest filters the ladder for the client, registers the session on
// first sight and renders the master playlist. A known session keeps the edge
// it was assigned. A client-sent estimate is also folded into the session's
// bandwidth estimate.
func (s *Service) MasterManifest(ctx context.Context, req MasterRequest) (MasterResult, error) {
	if req.ContentID == "" {
		return MasterResult{}, fmt.Errorf("content id: %w", ErrMissingField)
	}
	bw := s.defaultBandwidth
	if req.HasBandwidth {
		bw = req.BandwidthBps
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.newID()
	}

	offered := OfferedQualities(s.ladder, req.Device, bw)

	session, known, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return MasterResult{}, fmt.Errorf("load session: %w", err)
	}
	created := false
	if !known {
		edge := s.selector.Select()
		session, created, err = s.repo.RegisterSession(ctx, Session{
			ID:                 sessionID,
			ContentID:          req.ContentID,
			DeviceType:         req.Device,
			StartTime:          s.now().UTC(),
			EdgeID:             edge.ID,
			SelectedQualityIDs: QualityIDs(offered),
		})
		if err != nil {
			return MasterResult{}, fmt.Errorf("register session: %w", err)
		}
	}
	if created {
		s.log.Info("session registered",
			slog.String("session_id", session.ID),
			slog.String("content_id", session.ContentID),
			slog.String("device", string(session.DeviceType)),
			slog.String("edge", session.EdgeID),
			slog.Int("qualities", len(offered)))
	}

	if req.HasBandwidth {
		if _, err := s.repo.UpdateBandwidth(ctx, session.ID, bw); err != nil {
			return MasterResult{}, fmt.Errorf("update bandwidth: %w", err)
		}
	}

	edge := s.edgeByID(session.EdgeID)
	return MasterResult{
		Playlist: BuildMasterManifest(offered, edge, s.audio),
		Session:  session,
		Edge:     edge,
		Created:  created,
	}, nil
}

// VariantManifest renders the media playlist of one quality.
func (s *Service) VariantManifest(contentID string, qualityID int, live bool) (string, error) {
	if _, ok := Lookup(s.ladder, qualityID); !ok {
		return "", fmt.Errorf("quality %d: %w", qualityID, ErrUnknownQuality)
	}
	return BuildVariantManifest(contentID, qualityID, live, s.segmentDuration), nil
}

// SegmentRequest identifies a synthetic segment and an optional byte range.
type SegmentRequest struct {
	ContentID string
	QualityID int
	Index     int
	// Range is the raw Range header; empty means the whole segment.
	Range     string
	SessionID string
	// CDNToken, when set, must be a valid signature for ContentID and
	// DeviceID that has not passed Expires.
	CDNToken string
	DeviceID string
	Expires  time.Time
}

// SegmentResult is the payload to write. Range is nil for a full response.
type SegmentResult struct {
	Body  []byte
	Range *ByteRange
}

// Segment synthesises a segment, slices it when a range is requested and logs
// a segment_delivered event.
func (s *Service) Segment(ctx context.Context, req SegmentRequest) (SegmentResult, error) {
	if _, ok := Lookup(s.ladder, req.QualityID); !ok {
		return SegmentResult{}, fmt.Errorf("quality %d: %w", req.QualityID, ErrUnknownQuality)
	}
	if req.Index < 0 {
		return SegmentResult{}, fmt.Errorf("segment %d: %w", req.Index, ErrInvalidSegment)
	}
	if req.CDNToken != "" && !s.validator.VerifyCDNToken(req.CDNToken, req.ContentID, req.DeviceID, req.Expires) {
		return SegmentResult{}, fmt.Errorf("cdn token: %w", ErrInvalidToken)
	}

	data := SegmentBytes(req.ContentID, req.QualityID, req.Index)
	res := SegmentResult{Body: data}
	if req.Range != "" {
		br, err := ParseRange(req.Range, int64(len(data)))
		if err != nil {
			return SegmentResult{}, err
		}
		res.Body = data[br.Start : br.End+1]
		res.Range = &br
	}

	event := AnalyticsEvent{
		Type:       EventSegmentDelivered,
		SessionID:  req.SessionID,
		ServerTime: s.now().UTC(),
		Edge:       s.sessionEdge(ctx, req.SessionID),
		Fields: map[string]any{
			"contentId": req.ContentID,
			"quality":   req.QualityID,
			"segment":   req.Index,
			"bytes":     len(res.Body),
			"ranged":    res.Range != nil,
		},
	}
	if err := s.repo.RecordEvents(ctx, event); err != nil {
		return SegmentResult{}, fmt.Errorf("record delivery: %w", err)
	}
	return res, nil
}

// AnalyticsResult is the response to an analytics batch.
type AnalyticsResult struct {
	Received        int      `json:"received"`
	QoEScore        float64  `json:"qoeScore"`
	Recommendations []string `json:"recommendations"`
}

// RecordAnalytics validates and stores a batch of client events for
// sessionID, feeds bandwidth samples into the estimate and returns the
// session's updated QoE. A batch with any invalid event is rejected whole.
// An empty sessionID is taken from the events' own sessionId field.
func (s *Service) RecordAnalytics(ctx context.Context, sessionID string, raw []map[string]any) (AnalyticsResult, error) {
	now := s.now().UTC()

	events := make([]AnalyticsEvent, 0, len(raw))
	for i, r := range raw {
		typ, _ := r["type"].(string)
		if typ == "" {
			return AnalyticsResult{}, fmt.Errorf("event %d: %w", i, ErrMissingEventType)
		}
		sid := sessionID
		if sid == "" {
			sid, _ = r["sessionId"].(string)
		}
		if sid == "" {
			return AnalyticsResult{}, fmt.Errorf("event %d: %w", i, ErrMissingSessionID)
		}

		fields := make(map[string]any, len(r))
		for k, v := range r {
			switch k {
			case "type", "sessionId", "serverTime", "edge":
				continue
			}
			fields[k] = v
		}
		events = append(events, AnalyticsEvent{Type: typ, SessionID: sid, ServerTime: now, Fields: fields})
	}
	if sessionID == "" && len(events) > 0 {
		sessionID = events[0].SessionID
	}
	if sessionID == "" {
		return AnalyticsResult{}, ErrMissingSessionID
	}
	edge := s.sessionEdge(ctx, sessionID)

	for i := range events {
		events[i].Edge = edge
		if err := s.applyEvent(ctx, events[i]); err != nil {
			return AnalyticsResult{}, err
		}
	}
	if err := s.repo.RecordEvents(ctx, events...); err != nil {
		return AnalyticsResult{}, fmt.Errorf("record events: %w", err)
	}

	score, err := s.QoE(ctx, sessionID)
	if err != nil {
		return AnalyticsResult{}, err
	}
	bw, known, err := s.repo.Bandwidth(ctx, sessionID)
	if err != nil {
		return AnalyticsResult{}, fmt.Errorf("load bandwidth: %w", err)
	}

	s.log.Debug("analytics recorded",
		slog.String("session_id", sessionID),
		slog.Int("events", len(events)),
		slog.Float64("qoe", score))

	return AnalyticsResult{
		Received:        len(events),
		QoEScore:        score,
		Recommendations: Recommendations(bw, known),
	}, nil
}

// applyEvent folds the side effects of a single event into the store.
func (s *Service) applyEvent(ctx context.Context, e AnalyticsEvent) error {
	if bw, ok := e.Float("bandwidth"); ok && bw > 0 {
		if _, err := s.repo.UpdateBandwidth(ctx, e.SessionID, bw); err != nil {
			return fmt.Errorf("update bandwidth: %w", err)
		}
	}
	if e.Type != EventQualitySwitch {
		return nil
	}
	q, ok := e.Float("toQuality")
	if !ok {
		q, ok = e.Float("quality")
	}
	if !ok {
		return nil
	}
	if _, known := Lookup(s.ladder, int(q)); !known {
		return nil
	}
	err := s.repo.RecordPlayedQuality(ctx, e.SessionID, int(q))
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

// QoE scores a session; unknown sessions score NeutralQoE.
func (s *Service) QoE(ctx context.Context, sessionID string) (float64, error) {
	session, ok, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return NeutralQoE, nil
	}
	events, err := s.repo.SessionEvents(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}
	return ComputeQoE(&session, events), nil
}

// Estimate is the bandwidth view of a session.
type Estimate struct {
	EstimatedBandwidth float64        `json:"estimatedBandwidth"`
	RecommendedQuality int            `json:"recommendedQuality"`
	AvailableQualities []QualityLevel `json:"availableQualities"`
}

// BandwidthEstimate reports the smoothed estimate of a session (or the
// default when none was sampled) with the qualities it admits.
func (s *Service) BandwidthEstimate(ctx context.Context, sessionID string) (Estimate, error) {
	bw, ok, err := s.repo.Bandwidth(ctx, sessionID)
	if err != nil {
		return Estimate{}, fmt.Errorf("load bandwidth: %w", err)
	}
	if !ok {
		bw = s.defaultBandwidth
	}

	device := DeviceDesktop
	if session, known, err := s.repo.Session(ctx, sessionID); err != nil {
		return Estimate{}, fmt.Errorf("load session: %w", err)
	} else if known {
		device = session.DeviceType
	}

	return Estimate{
		EstimatedBandwidth: bw,
		RecommendedQuality: RecommendedQuality(s.ladder, bw),
		AvailableQualities: OfferedQualities(s.ladder, device, bw),
	}, nil
}

// ValidateToken checks an access token for content on a device.
func (s *Service) ValidateToken(token, contentID, deviceID string) (Grant, error) {
	switch {
	case token == "":
		return Grant{}, fmt.Errorf("token: %w", ErrMissingField)
	case contentID == "":
		return Grant{}, fmt.Errorf("contentId: %w", ErrMissingField)
	case deviceID == "":
		return Grant{}, fmt.Errorf("deviceId: %w", ErrMissingField)
	}
	return s.validator.Validate(token, contentID, deviceID)
}

// Health is the payload of the health endpoint.
type Health struct {
	Status    string    `json:"status"`
	Edges     []Edge    `json:"edges"`
	Sessions  int       `json:"sessions"`
	Events    int       `json:"events"`
	UptimeSec int64     `json:"uptimeSeconds"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports the edge fleet and store counters.
func (s *Service) Health(ctx context.Context) (Health, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return Health{}, fmt.Errorf("store stats: %w", err)
	}
	now := s.now()
	status := "healthy"
	down := 0
	for _, e := range s.edges {
		if e.Status != EdgeHealthy {
			status = "degraded"
		}
		if e.Status == EdgeDown {
			down++
		}
	}
	if down == len(s.edges) {
		status = "down"
	}
	return Health{
		Status:    status,
		Edges:     s.edges,
		Sessions:  stats.Sessions,
		Events:    stats.Events,
		UptimeSec: int64(now.Sub(s.started).Seconds()),
		Timestamp: now.UTC(),
	}, nil
}

// Sessions returns the number of known sessions, for gauges.
func (s *Service) Sessions(ctx context.Context) (int, error) {
	stats, err := s.repo.Stats(ctx)
	return stats.Sessions, err
}

func (s *Service) edgeByID(id string) Edge {
	for _, e := range s.edges {
		if e.ID == id {
			return e
		}
	}
	return Edge{ID: id, Location: id, Status: EdgeHealthy}
}

// sessionEdge is the edge assigned to a known session, or "" otherwise.
func (s *Service) sessionEdge(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	session, ok, err := s.repo.Session(ctx, sessionID)
	if err != nil || !ok {
		return ""
	}
	return session.EdgeID
}

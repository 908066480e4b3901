package cdn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hls-cdnsim/internal/platform/logger"
	"hls-cdnsim/internal/platform/metrics"
	"hls-cdnsim/internal/platform/middleware"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	maxBodyBytes        = 1 << 20
)

// Handler exposes the CDN simulator HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes builds the full router: recovery, CORS, request logging, metrics and
// every endpoint. rateLimitPerMinute applies per client IP to the analytics
// and auth endpoints; zero disables it.
func (h *Handler) Routes(rateLimitPerMinute int) chi.Router {
	r := chi.NewRouter()
	r.Use(logger.Recovery(h.log))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(logger.RequestLogger(h.log))
	r.Use(metrics.RequestMiddleware(h.metrics))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.Health)
	r.Route("/manifest/{contentId}", func(r chi.Router) {
		r.Get("/master.m3u8", h.MasterManifest)
		r.Get("/video/{qualityId}/index.m3u8", h.VariantManifest)
	})
	r.Get("/segment/{contentId}/{qualityId}/{segment}", h.Segment)
	r.Get("/bandwidth/estimate", h.BandwidthEstimate)

	limit := middleware.PerMinute(rateLimitPerMinute)
	r.With(limit).Post("/analytics/events", h.AnalyticsEvents)
	r.With(limit).Post("/auth/validate", h.ValidateAuth)

	if h.metrics != nil {
		r.Get("/metrics", h.metrics.Handler(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if n, err := h.svc.Sessions(ctx); err == nil {
				h.metrics.SetActiveSessions(n)
			}
		}).ServeHTTP)
	}
	return r
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.svc.Health(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// MasterManifest handles GET /manifest/{contentId}/master.m3u8.
func (h *Handler) MasterManifest(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentId")
	if contentID == "" {
		writeError(w, http.StatusBadRequest, "missing content id")
		return
	}

	bw, hasBW, err := parseBandwidth(r.Header.Get("X-Bandwidth-Estimate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.MasterManifest(r.Context(), MasterRequest{
		ContentID:    contentID,
		Device:       ParseDeviceType(r.Header.Get("X-Device-Type")),
		BandwidthBps: bw,
		HasBandwidth: hasBW,
		SessionID:    r.Header.Get("X-Session-ID"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Edge-Location", res.Edge.ID)
	w.Header().Set("X-Session-ID", res.Session.ID)
	w.Header().Set("X-CDN-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Playlist))
	if h.metrics != nil {
		h.metrics.IncManifest("master")
	}
}

// VariantManifest handles GET /manifest/{contentId}/video/{qualityId}/index.m3u8?live=true.
func (h *Handler) VariantManifest(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentId")
	qualityID, err := strconv.Atoi(chi.URLParam(r, "qualityId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "quality id must be an integer")
		return
	}
	live, _ := strconv.ParseBool(r.URL.Query().Get("live"))

	playlist, err := h.svc.VariantManifest(contentID, qualityID, live)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	if live {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=60")
	}
	w.Header().Set("X-CDN-Cache", "HIT")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(playlist))
	if h.metrics != nil {
		h.metrics.IncManifest("variant")
	}
}

// Segment handles GET /segment/{contentId}/{qualityId}/{segmentId}.ts with
// optional single byte ranges. A token query parameter (with deviceId and
// expires) is checked against the CDN token issued by /auth/validate.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(chi.URLParam(r, "segment"), ".ts")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	qualityID, err := strconv.Atoi(chi.URLParam(r, "qualityId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "quality id must be an integer")
		return
	}
	index, err := strconv.Atoi(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "segment id must be an integer")
		return
	}

	req := SegmentRequest{
		ContentID: chi.URLParam(r, "contentId"),
		QualityID: qualityID,
		Index:     index,
		Range:     r.Header.Get("Range"),
		SessionID: r.Header.Get("X-Session-ID"),
	}
	if q := r.URL.Query(); q.Get("token") != "" {
		expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expires must be unix seconds")
			return
		}
		req.CDNToken = q.Get("token")
		req.DeviceID = q.Get("deviceId")
		req.Expires = time.Unix(expires, 0)
	}

	res, err := h.svc.Segment(r.Context(), req)
	if errors.Is(err, ErrInvalidRange) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", SegmentSize))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, err.Error())
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", segmentContentType)
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set("Cache-Control", "public, max-age=31536000, immutable")
	hdr.Set("Content-Length", strconv.Itoa(len(res.Body)))
	status := http.StatusOK
	if res.Range != nil {
		hdr.Set("Content-Range", res.Range.ContentRange())
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	_, _ = w.Write(res.Body)

	h.log.Debug("segment delivered",
		slog.String("content_id", chi.URLParam(r, "contentId")),
		slog.Int("quality", qualityID),
		slog.Int("segment", index),
		slog.Int("bytes", len(res.Body)))
	if h.metrics != nil {
		h.metrics.ObserveSegment(res.Range != nil, len(res.Body))
	}
}

type analyticsRequest struct {
	Events *[]map[string]any `json:"events"`
}

// AnalyticsEvents handles POST /analytics/events.
// Body: { "events": [ { "type": "rebuffer", ... } ] }.
func (h *Handler) AnalyticsEvents(w http.ResponseWriter, r *http.Request) {
	var body analyticsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.log.Debug("invalid analytics body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Events == nil {
		writeError(w, http.StatusBadRequest, "events must be an array")
		return
	}

	res, err := h.svc.RecordAnalytics(r.Context(), r.Header.Get("X-Session-ID"), *body.Events)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
	if h.metrics != nil {
		h.metrics.AddAnalyticsEvents(res.Received)
		h.metrics.ObserveQoE(res.QoEScore)
	}
}

type authRequest struct {
	Token     string `json:"token"`
	ContentID string `json:"contentId"`
	DeviceID  string `json:"deviceId"`
}

// ValidateAuth handles POST /auth/validate.
// Body: { "token": "...", "contentId": "...", "deviceId": "..." }.
func (h *Handler) ValidateAuth(w http.ResponseWriter, r *http.Request) {
	var body authRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	grant, err := h.svc.ValidateToken(body.Token, body.ContentID, body.DeviceID)
	if errors.Is(err, ErrInvalidToken) {
		h.log.Warn("token rejected",
			slog.String("content_id", body.ContentID),
			slog.String("device_id", body.DeviceID))
		if h.metrics != nil {
			h.metrics.IncAuthFailures()
		}
		writeJSON(w, http.StatusForbidden, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// BandwidthEstimate handles GET /bandwidth/estimate. The session comes from
// the X-Session-ID header or the sessionId query parameter.
func (h *Handler) BandwidthEstimate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	est, err := h.svc.BandwidthEstimate(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// fail maps a service error to a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownQuality):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrInvalidSegment),
		errors.Is(err, ErrMissingEventType),
		errors.Is(err, ErrMissingSessionID),
		errors.Is(err, ErrMissingField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseBandwidth reads the client's estimate in bps. set is false when the
// header is absent.
func parseBandwidth(v string) (bps float64, set bool, err error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false, nil
	}
	bps, err = strconv.ParseFloat(v, 64)
	if err != nil || bps < 0 || math.IsNaN(bps) || math.IsInf(bps, 0) {
		return 0, false, fmt.Errorf("invalid x-bandwidth-estimate %q", v)
	}
	return bps, true, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

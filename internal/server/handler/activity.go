package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/service"
)

// ActivityHandler serves the audit trail, blacklist and event log.
type ActivityHandler struct {
	svc    *service.MarketService
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler. bus may be nil when Redis
// is disabled; the event log endpoint then reports 503.
func NewActivityHandler(svc *service.MarketService, bus domain.SignalBus, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{svc: svc, bus: bus, logger: logHandler(logger, "activity")}
}

// Audit returns audit rows, newest first.
// GET /api/audit
func (h *ActivityHandler) Audit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	entries, err := h.svc.Audit(r.Context(), opts)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Blacklist returns strike state; banned=true limits it to banned wallets.
// GET /api/blacklist
func (h *ActivityHandler) Blacklist(w http.ResponseWriter, r *http.Request) {
	banned, _ := strconv.ParseBool(r.URL.Query().Get("banned"))
	entries := h.svc.Blacklist(banned)
	if entries == nil {
		entries = []domain.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type streamEvent struct {
	ID    string             `json:"id"`
	Event domain.MarketEvent `json:"event"`
}

// Events pages through the event log stream after a given entry id.
// GET /api/events?after=0-0&count=100
func (h *ActivityHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event log disabled")
		return
	}
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0-0"
	}
	count := 100
	if n, err := strconv.Atoi(q.Get("count")); err == nil && n > 0 && n <= 1000 {
		count = n
	}
	msgs, err := h.bus.StreamRead(r.Context(), domain.EventsStream, after, count)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		var ev domain.MarketEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "skipping malformed event",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, streamEvent{ID: m.ID, Event: ev})
	}
	writeJSON(w, http.StatusOK, out)
}

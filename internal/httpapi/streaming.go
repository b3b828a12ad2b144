package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/streaming"
)

// StreamingHandler serves SSE and WebSocket endpoints for run events.
type StreamingHandler struct {
	mgr       *streaming.Manager
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger, heartbeat: 15 * time.Second}
}

// RegisterRoutes registers stream routes on mux, each wrapped by mw when non-nil.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		var handler http.Handler = requireScope(auth.ScopeRunsRead, fn)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}
	mux.Handle("GET /runs/{id}/stream", wrap(h.handleSSE))
	mux.Handle("GET /runs/{id}/stream/ws", wrap(h.handleWS))
}

// streamParams are the optional filters shared by SSE and WebSocket.
type streamParams struct {
	types  map[string]struct{}
	lastID uint64
}

func parseStreamParams(r *http.Request) streamParams {
	p := streamParams{types: map[string]struct{}{}}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				p.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			p.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && p.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			p.lastID = n
		}
	}
	return p
}

func (p streamParams) wants(evt streaming.Event) bool {
	if len(p.types) == 0 {
		return true
	}
	_, ok := p.types[evt.Type]
	return ok
}

func writeSSE(w http.ResponseWriter, evt streaming.Event) {
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(evt.Marshal()))
}

// handleSSE streams run events via Server-Sent Events.
// GET /runs/{id}/stream?types=a,b&last_event_id=N
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	params := parseStreamParams(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.mgr.Subscribe(runID, 256)
	defer h.mgr.Unsubscribe(runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", runID)
	flusher.Flush()

	sent := params.lastID
	if params.lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(runID, params.lastID) {
			sent = ev.Seq
			if params.wants(ev) {
				writeSSE(w, ev)
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", runID))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			// Already delivered by the replay.
			if evt.Seq <= sent || !params.wants(evt) {
				continue
			}
			sent = evt.Seq
			writeSSE(w, evt)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

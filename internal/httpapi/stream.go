package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/igm/sockjs-go/sockjs"

	"github.com/mamamind47/sfa-queue/internal/live"
	"github.com/mamamind47/sfa-queue/internal/store"
)

// handleStream serves /api/stream/{serviceId} as server-sent events. The
// first frame is HELLO, then a STATE, then whatever the notifier publishes.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	serviceID, ok := parseID(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/stream/"), "/"))
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "Invalid serviceId")
		return
	}

	sub, err := h.streamer.Attach(r.Context(), serviceID)
	if err != nil {
		h.writeAttachError(w, r, err)
		return
	}
	defer h.streamer.Detach(sub)

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.log.Debug("stream write deadline", "error", err)
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.Send:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeAttachError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrServiceNotFound) {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "Service not found")
		return
	}
	h.log.Error("live attach", "path", r.URL.Path, "error", err)
	writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
}

func (h *Handler) realtimeHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, h.serveSession)
}

// serveSession binds one sockjs session to at most one service at a time.
// A new subscribe message replaces the previous subscription.
func (h *Handler) serveSession(session sockjs.Session) {
	var (
		sub  *live.Subscriber
		done chan struct{}
	)
	detach := func() {
		if sub == nil {
			return
		}
		h.streamer.Detach(sub)
		<-done
		sub = nil
	}
	defer detach()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := live.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		detach()
		if parsed.Action == "unsubscribe" {
			continue
		}
		if parsed.ServiceID <= 0 {
			_ = session.Close(4000, "invalid serviceId")
			return
		}

		next, err := h.streamer.Attach(sessionContext(session), parsed.ServiceID)
		if err != nil {
			if errors.Is(err, store.ErrServiceNotFound) {
				_ = session.Close(4004, "service not found")
			} else {
				h.log.Error("live attach", "service_id", parsed.ServiceID, "error", err)
				_ = session.Close(4500, "attach failed")
			}
			return
		}
		sub = next
		done = make(chan struct{})
		go pump(session, sub, done)
	}
}

// pump forwards frames until the subscriber is detached. Send errors are
// ignored so the channel keeps draining.
func pump(session sockjs.Session, sub *live.Subscriber, done chan struct{}) {
	defer close(done)
	for frame := range sub.Send {
		_ = session.Send(string(frame))
	}
}

func sessionContext(session sockjs.Session) context.Context {
	if req := session.Request(); req != nil {
		return context.WithoutCancel(req.Context())
	}
	return context.Background()
}

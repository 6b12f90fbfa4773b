package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lodgepole/farmsight/pkg/events"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
)

// DefaultKeepalive is the idle heartbeat interval for event streams.
const DefaultKeepalive = 30 * time.Second

var errStreamingUnsupported = errors.New("response writer does not support streaming")

// keepaliveFrame is what idle SSE clients receive so proxies keep the
// connection open. Dashboards ignore it.
var keepaliveFrame = []byte("data: {}\n\n")

// EventStream serves one broadcaster domain over SSE. Subscribers get
// events from the moment they connect; there is no backfill, and a
// consumer that falls too far behind is disconnected by the
// broadcaster.
type EventStream struct {
	name        string
	broadcaster *events.Broadcaster
	keepalive   time.Duration
	logger      *zap.Logger
}

// NewEventStream creates an SSE handler over the given broadcaster.
func NewEventStream(name string, b *events.Broadcaster, keepalive time.Duration, logger *zap.Logger) *EventStream {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{name: name, broadcaster: b, keepalive: keepalive, logger: logger}
}

// ServeHTTP streams events as one JSON object per data frame until the
// client disconnects or the broadcaster drops the subscription.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, r, errStreamingUnsupported)
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broadcaster.Subscribe()
	defer sub.Close()

	s.logger.Debug("event stream opened",
		zap.String("stream", s.name),
		zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C():
			if !open {
				// Broadcaster disconnected this subscriber for
				// falling behind.
				s.logger.Warn("event stream dropped",
					zap.String("stream", s.name),
					zap.String("remote", r.RemoteAddr))
				return
			}
			if err := writeSSE(w, flusher, ev); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.Write(keepaliveFrame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from arbitrary studio hosts; auth
		// happens at the middleware layer, not via Origin.
		return true
	},
}

// wsWriteTimeout bounds each outbound websocket write.
const wsWriteTimeout = 10 * time.Second

// wsHello is the first frame every websocket client receives.
type wsHello struct {
	Type string `json:"type"`
}

// wsSnapshot carries the current job list sent right after the hello,
// so clients render state immediately instead of waiting for changes.
type wsSnapshot struct {
	Type string                  `json:"type"`
	Jobs []jobregistry.JobRecord `json:"jobs"`
}

// JobSocket upgrades dashboard connections to WebSocket and pushes job
// lifecycle events. Each client gets a connected frame, a snapshot of
// current jobs, then live events.
type JobSocket struct {
	registry  *jobregistry.Registry
	keepalive time.Duration
	logger    *zap.Logger
}

// NewJobSocket creates a websocket handler over the job registry.
func NewJobSocket(registry *jobregistry.Registry, keepalive time.Duration, logger *zap.Logger) *JobSocket {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobSocket{registry: registry, keepalive: keepalive, logger: logger}
}

// ServeHTTP handles GET /api/render/ws.
func (h *JobSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("websocket opened", zap.String("remote", r.RemoteAddr))

	// Subscribe before the snapshot so changes between the two are not
	// lost; the client may see an event repeat what the snapshot
	// already said, which is harmless.
	sub := h.registry.Events().Subscribe()
	defer sub.Close()

	if err := h.writeJSON(conn, wsHello{Type: "connected"}); err != nil {
		return
	}
	if err := h.writeJSON(conn, wsSnapshot{Type: "snapshot", Jobs: h.registry.List(jobregistry.ListFilter{})}); err != nil {
		return
	}

	// Reader goroutine consumes control frames and surfaces the close.
	readErr := make(chan error, 1)
	go func() {
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(2 * h.keepalive))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * h.keepalive))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		case ev, open := <-sub.C():
			if !open {
				h.logger.Warn("websocket subscriber dropped", zap.String("remote", r.RemoteAddr))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "event queue overflow"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := h.writeJSON(conn, ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *JobSocket) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

// Package engine is the synchronization protocol handler: it attaches
// websocket connections to project sessions, serializes their edits through
// a per-session event loop, and fans broadcasts back out.
package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readBuffer = 1024
	// joinWait bounds how long a fresh connection may sit silent before
	// sending its join-project frame.
	joinWait = 10 * time.Second
)

// Engine accepts websocket connections and routes them into rooms.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New returns an engine over the given registry.
func New(registry *Registry, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: readBuffer,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Registry exposes the session registry to the HTTP layer.
func (e *Engine) Registry() *Registry { return e.registry }

// HandleWS upgrades the connection and runs its read loop. The first frame
// must be join-project; everything after flows through the room's event
// loop until the connection drops.
func (e *Engine) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := e.upgrader.Upgrade(w, req, nil)
	if err != nil {
		e.logger.Error("failed to upgrade", "err", err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(joinWait))
	var first Frame
	if err := conn.ReadJSON(&first); err != nil || first.Event != "join-project" {
		e.logger.Debug("connection did not join", "err", err)
		_ = conn.Close()
		return
	}
	var join joinProjectData
	if len(first.Data) > 0 {
		if err := json.Unmarshal(first.Data, &join); err != nil {
			e.logger.Debug("malformed join-project", "err", err)
			_ = conn.Close()
			return
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := newClient(conn, join.Username, join.Color)
	go c.writePump()

	room := e.registry.Attach(join.ProjectID)
	if err := room.Join(c); err != nil {
		e.logger.Debug("join rejected", "project", join.ProjectID, "err", err)
		close(c.send)
		return
	}

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var f Frame
		if err := json.Unmarshal(buf, &f); err != nil {
			e.logger.Debug("malformed frame", "conn", c.id, "err", err)
			continue
		}
		if err := room.Submit(c, f); err != nil {
			break
		}
	}
	room.Leave(c)
}

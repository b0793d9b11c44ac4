// Package api exposes the HTTP surface: project CRUD, uploads, the compile
// proxy, and the websocket endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/webtexlab/webtexd/pkg/assets"
	"github.com/webtexlab/webtexd/pkg/compile"
	"github.com/webtexlab/webtexd/pkg/engine"
	"github.com/webtexlab/webtexd/pkg/project"
	"github.com/webtexlab/webtexd/pkg/store"
	"github.com/webtexlab/webtexd/pkg/viz"
)

// Handlers wires the HTTP surface to the engine and its collaborators.
type Handlers struct {
	engine   *engine.Engine
	assets   *assets.Store
	compiler *compile.Client
	store    *store.Store
	logger   *slog.Logger
}

// NewHandlers builds the HTTP layer. store may be nil to disable the debug
// history endpoint.
func NewHandlers(e *engine.Engine, assetStore *assets.Store, compiler *compile.Client, st *store.Store, logger *slog.Logger) *Handlers {
	return &Handlers{engine: e, assets: assetStore, compiler: compiler, store: st, logger: logger}
}

// Router assembles the mux router with request logging.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, req)
			h.logger.Info("handled", "method", req.Method, "url", req.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/api/projects").HandlerFunc(h.listProjects)
	r.Methods(http.MethodPost).Path("/api/projects").HandlerFunc(h.createProject)
	r.Methods(http.MethodGet).Path("/api/projects/{id}").HandlerFunc(h.getProject)
	r.Methods(http.MethodPut).Path("/api/projects/{id}").HandlerFunc(h.updateProject)
	r.Methods(http.MethodDelete).Path("/api/projects/{id}").HandlerFunc(h.deleteProject)
	r.Methods(http.MethodGet).PathPrefix("/api/projects/{id}/files/").HandlerFunc(h.getFile)
	r.Methods(http.MethodPost).Path("/api/projects/{id}/folders").HandlerFunc(h.createFolder)
	r.Methods(http.MethodPost).Path("/api/projects/{id}/upload").HandlerFunc(h.upload)
	r.Methods(http.MethodPost).Path("/api/projects/{id}/import").HandlerFunc(h.importZip)
	r.Methods(http.MethodPost).Path("/api/projects/{id}/compile").HandlerFunc(h.compileProject)
	if h.store != nil {
		r.Methods(http.MethodGet).Path("/debug/projects/{id}/history.svg").HandlerFunc(h.history)
	}
	if h.assets != nil {
		r.PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.assets.Root()))))
	}
	r.Path("/ws").HandlerFunc(h.engine.HandleWS)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) room(w http.ResponseWriter, req *http.Request) (*engine.Room, bool) {
	id := mux.Vars(req)["id"]
	room, found := h.engine.Registry().Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "no such project")
		return nil, false
	}
	return room, true
}

func (h *Handlers) listProjects(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Registry().List())
}

func (h *Handlers) createProject(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Template string `json:"template"`
	}
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body)
	}
	room := h.engine.Registry().Create(body.Name, body.Template)
	var summary project.Summary
	_ = room.Do(func(s *project.Session) error {
		summary = s.Summary()
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"project": map[string]string{"id": summary.ID, "name": summary.Name},
	})
}

func (h *Handlers) getProject(w http.ResponseWriter, req *http.Request) {
	room, found := h.room(w, req)
	if !found {
		return
	}
	var out map[string]interface{}
	if err := room.Do(func(s *project.Session) error {
		out = map[string]interface{}{
			"id":       s.ID,
			"name":     s.Name,
			"files":    s.FileNames(),
			"folders":  s.Folders,
			"compiler": s.Compiler,
			"mainFile": s.MainFile,
			"created":  s.Created.UnixMilli(),
		}
		return nil
	}); err != nil {
		writeError(w, http.StatusNotFound, "no such project")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) updateProject(w http.ResponseWriter, req *http.Request) {
	room, found := h.room(w, req)
	if !found {
		return
	}
	var body struct {
		Name     string `json:"name"`
		Compiler string `json:"compiler"`
		MainFile string `json:"mainFile"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	var name, compiler, mainFile string
	if err := room.Do(func(s *project.Session) error {
		if err := s.SetSettings(body.Name, body.Compiler, body.MainFile); err != nil {
			return err
		}
		name, compiler, mainFile = s.Name, s.Compiler, s.MainFile
		return nil
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.engine.Registry().MarkDirty()
	room.Notify("project-updated", map[string]string{
		"name":     name,
		"compiler": compiler,
		"mainFile": mainFile,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) deleteProject(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := h.engine.Registry().Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "no such project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) compileProject(w http.ResponseWriter, req *http.Request) {
	room, found := h.room(w, req)
	if !found {
		return
	}
	var body struct {
		Compiler string `json:"compiler"`
	}
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body)
	}
	var snap project.Snapshot
	if err := room.Do(func(s *project.Session) error {
		snap = s.Snapshot()
		return nil
	}); err != nil {
		writeError(w, http.StatusNotFound, "no such project")
		return
	}
	compileReq := h.compiler.BuildRequest(snap, h.assets, body.Compiler)
	raw, err := h.compiler.Compile(req.Context(), compileReq)
	if err != nil {
		h.logger.Error("compile failed", "project", snap.ID, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (h *Handlers) history(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	doc, found := h.store.History(id)
	if !found {
		writeError(w, http.StatusNotFound, "no such project")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := viz.RenderHistory(doc, w); err != nil {
		h.logger.Error("failed to render history", "project", id, "err", err)
	}
}

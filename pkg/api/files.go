package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/webtexlab/webtexd/pkg/assets"
	"github.com/webtexlab/webtexd/pkg/engine"
	"github.com/webtexlab/webtexd/pkg/project"
)

// maxUploadBytes bounds a single upload or archive import.
const maxUploadBytes = 50 << 20

func (h *Handlers) getFile(w http.ResponseWriter, req *http.Request) {
	room, found := h.room(w, req)
	if !found {
		return
	}
	id := mux.Vars(req)["id"]
	prefix := "/api/projects/" + id + "/files/"
	name, err := url.PathUnescape(strings.TrimPrefix(req.URL.Path, prefix))
	if err != nil || name == "" {
		writeError(w, http.StatusBadRequest, "missing file path")
		return
	}
	var out map[string]interface{}
	if err := room.Do(func(s *project.Session) error {
		doc, found := s.Files[name]
		if !found {
			return project.ErrUnknownFile
		}
		if doc.IsAsset {
			out = map[string]interface{}{"isAsset": true, "assetPath": doc.AssetPath}
		} else {
			out = map[string]interface{}{"content": doc.Content, "version": doc.Version}
		}
		return nil
	}); err != nil {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) createFolder(w http.ResponseWriter, req *http.Request) {
	room, found := h.room(w, req)
	if !found {
		return
	}
	var body struct {
		FolderPath string `json:"folderPath"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.FolderPath == "" {
		writeError(w, http.StatusBadRequest, "missing folder path")
		return
	}
	var created bool
	if err := room.Do(func(s *project.Session) error {
		created = s.CreateFolder(body.FolderPath)
		return nil
	}); err != nil {
		writeError(w, http.StatusNotFound, "no such project")
		return
	}
	if created {
		h.engine.Registry().MarkDirty()
		room.Notify("folder-created", map[string]string{"folderPath": body.FolderPath})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type uploadedFile struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsAsset bool   `json:"isAsset"`
}

// storeUpload places one incoming file into the session: text files become
// documents, anything else becomes an asset stand-in backed by the asset
// store.
func (h *Handlers) storeUpload(room *engine.Room, projectID, relPath string, data []byte) (uploadedFile, error) {
	entry := uploadedFile{Name: relPath, Path: relPath, IsAsset: !assets.IsTextPath(relPath)}
	var doc *project.Document
	if entry.IsAsset {
		if err := h.assets.Put(projectID, relPath, data); err != nil {
			return entry, fmt.Errorf("failed to store asset %s: %w", relPath, err)
		}
		doc = project.NewAsset(h.assets.URL(projectID, relPath))
	} else {
		doc = project.NewDocument(string(data))
	}
	err := room.Do(func(s *project.Session) error {
		s.AddFile(relPath, doc)
		return nil
	})
	return entry, err
}

func (h *Handlers) upload(w http.ResponseWriter, req *http.Request) {
	room, found := h.room(w, req)
	if !found {
		return
	}
	id := mux.Vars(req)["id"]
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed upload")
		return
	}
	folderPath := req.FormValue("folderPath")

	var uploaded []uploadedFile
	for _, header := range req.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable upload")
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable upload")
			return
		}
		relPath := header.Filename
		if folderPath != "" {
			relPath = folderPath + "/" + relPath
		}
		entry, err := h.storeUpload(room, id, relPath, data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		entry.Name = header.Filename
		uploaded = append(uploaded, entry)
	}

	h.engine.Registry().MarkDirty()
	room.Notify("files-uploaded", map[string]interface{}{"files": uploaded})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "files": uploaded})
}

func (h *Handlers) importZip(w http.ResponseWriter, req *http.Request) {
	room, found := h.room(w, req)
	if !found {
		return
	}
	id := mux.Vars(req)["id"]
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed upload")
		return
	}
	f, _, err := req.FormFile("zipFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing zip file")
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable zip file")
		return
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "not a zip archive")
		return
	}

	type texFile struct{ name, content string }
	var imported []uploadedFile
	var texFiles []texFile
	for _, entry := range zr.File {
		name := strings.TrimSuffix(entry.Name, "/")
		if entry.FileInfo().IsDir() {
			if name == "" {
				continue
			}
			_ = room.Do(func(s *project.Session) error {
				s.CreateFolder(name)
				return nil
			})
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable zip entry")
			return
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable zip entry")
			return
		}
		up, err := h.storeUpload(room, id, name, data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		imported = append(imported, up)
		if !up.IsAsset && strings.HasSuffix(strings.ToLower(name), ".tex") {
			texFiles = append(texFiles, texFile{name: name, content: string(data)})
		}
	}

	// Pick the main file: prefer a \documentclass, then a literal main.tex,
	// then the first imported .tex.
	mainFile := ""
	for _, tf := range texFiles {
		if strings.Contains(tf.content, `\documentclass`) {
			mainFile = tf.name
			break
		}
	}
	if mainFile == "" {
		for _, tf := range texFiles {
			if strings.EqualFold(tf.name, project.DefaultMainFile) {
				mainFile = tf.name
				break
			}
		}
	}
	if mainFile == "" && len(texFiles) > 0 {
		mainFile = texFiles[0].name
	}

	var finalMain string
	_ = room.Do(func(s *project.Session) error {
		if mainFile != "" {
			s.MainFile = mainFile
			// A leftover stub main.tex only shadows the imported project.
			if mainFile != project.DefaultMainFile {
				if doc, found := s.Files[project.DefaultMainFile]; found && !doc.IsAsset &&
					(len(doc.Content) < 200 || doc.Content == project.DefaultMainContent) {
					_ = s.DeleteFile(project.DefaultMainFile)
				}
			}
		}
		finalMain = s.MainFile
		return nil
	})

	h.engine.Registry().MarkDirty()
	room.Notify("project-imported", map[string]interface{}{
		"files":    imported,
		"mainFile": finalMain,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"filesCount": len(imported),
		"files":      imported,
		"mainFile":   finalMain,
	})
}

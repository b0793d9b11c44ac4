package engine

import (
	"encoding/json"
	"fmt"

	"github.com/webtexlab/webtexd/pkg/ot"
	"github.com/webtexlab/webtexd/pkg/project"
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func marshalFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// RangeOp is the wire form of one edit operation: replace the half-open
// byte range [From,To) with InsertedText. Kind mirrors the editor's change
// origin; only user-initiated kinds are applied.
type RangeOp struct {
	From         int    `json:"from"`
	To           int    `json:"to"`
	InsertedText string `json:"insertedText"`
	Kind         string `json:"kind"`
}

func (op RangeOp) applies() bool {
	switch op.Kind {
	case "", "+input", "+delete", "paste", "cut":
		return true
	}
	return false
}

// toOps lowers wire ops to ot primitives, skipping non-edit kinds.
func toOps(rangeOps []RangeOp) []ot.Op {
	var ops []ot.Op
	for _, r := range rangeOps {
		if !r.applies() {
			continue
		}
		ops = append(ops, ot.Replace(r.From, r.To, r.InsertedText)...)
	}
	return ops
}

// toRangeOps lifts applied ot primitives back to the wire form for
// broadcasting.
func toRangeOps(ops []ot.Op) []RangeOp {
	out := make([]RangeOp, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case ot.Insert:
			out = append(out, RangeOp{From: o.Pos, To: o.Pos, InsertedText: o.Text, Kind: "+input"})
		case ot.Delete:
			out = append(out, RangeOp{From: o.Pos, To: o.Pos + o.N, Kind: "+delete"})
		}
	}
	return out
}

// Inbound payloads.

type joinProjectData struct {
	ProjectID string `json:"projectId"`
	Username  string `json:"username"`
	Color     string `json:"color"`
}

type docChangeData struct {
	File        string    `json:"file"`
	Ops         []RangeOp `json:"ops"`
	BaseVersion int64     `json:"baseVersion"`
}

type docSyncData struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

type fileRefData struct {
	File string `json:"file"`
}

type cursorUpdateData struct {
	File   string         `json:"file"`
	Cursor project.Cursor `json:"cursor"`
}

type selectionUpdateData struct {
	File      string          `json:"file"`
	Selection json.RawMessage `json:"selection"`
}

type filenameData struct {
	Filename string `json:"filename"`
}

type renameFileData struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type createFolderData struct {
	Path string `json:"path"`
}

type chatMessageData struct {
	Text string `json:"text"`
}

type createProjectData struct {
	Name string `json:"name"`
}

// Outbound payloads.

// FileData is one file entry in the project-data payload. Content is null
// for binary asset stand-ins.
type FileData struct {
	Content   *string `json:"content"`
	Version   int64   `json:"version"`
	IsAsset   bool    `json:"isAsset"`
	AssetPath string  `json:"assetPath,omitempty"`
}

// CursorState is one user's last reported caret, keyed by connection in the
// project-data cursors map.
type CursorState struct {
	File   string          `json:"file"`
	Cursor *project.Cursor `json:"cursor"`
}

// ProjectData is the join reply carrying the complete session view.
type ProjectData struct {
	ProjectID   string                 `json:"projectId"`
	ProjectName string                 `json:"projectName"`
	Compiler    string                 `json:"compiler"`
	MainFile    string                 `json:"mainFile"`
	Folders     []string               `json:"folders"`
	Files       map[string]FileData    `json:"files"`
	Users       []*project.Presence    `json:"users"`
	Cursors     map[string]CursorState `json:"cursors"`
}

func projectData(s *project.Session) ProjectData {
	files := make(map[string]FileData, len(s.Files))
	for name, doc := range s.Files {
		fd := FileData{Version: doc.Version, IsAsset: doc.IsAsset, AssetPath: doc.AssetPath}
		if !doc.IsAsset {
			content := doc.Content
			fd.Content = &content
		}
		files[name] = fd
	}
	cursors := map[string]CursorState{}
	for id, p := range s.Presence {
		if p.Cursor != nil {
			cursors[id] = CursorState{File: p.CursorFile, Cursor: p.Cursor}
		}
	}
	return ProjectData{
		ProjectID:   s.ID,
		ProjectName: s.Name,
		Compiler:    s.Compiler,
		MainFile:    s.MainFile,
		Folders:     s.Folders,
		Files:       files,
		Users:       s.Users(),
		Cursors:     cursors,
	}
}

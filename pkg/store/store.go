// Package store persists project snapshots. Each project's non-transient
// state lives in a long-lived automerge document whose binary save is kept
// base64-encoded in a sqlite table, one row per project. The automerge
// change history doubles as a snapshot history for debugging.
package store

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
	_ "github.com/mattn/go-sqlite3"

	"github.com/webtexlab/webtexd/pkg/project"
)

// snapshotKeys are the root fields of a project document, in write order.
var snapshotKeys = []string{"id", "name", "files", "folders", "compiler", "mainFile", "created", "updated"}

// Store is the durable snapshot store.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	docs  map[string]*automerge.Doc
	saved map[string]string // last persisted encoding per project
}

// Open opens (or creates) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS projects (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create projects table: %w", err)
	}
	return &Store{
		db:    db,
		docs:  map[string]*automerge.Doc{},
		saved: map[string]string{},
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadAll reads every persisted project snapshot.
func (s *Store) LoadAll() (map[string]project.Snapshot, error) {
	rows, err := s.db.Query(`SELECT id, content FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := map[string]project.Snapshot{}
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode project %s: %w", id, err)
		}
		doc, err := automerge.Load(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to load project doc %s: %w", id, err)
		}
		snap, err := decodeSnapshot(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode project doc %s: %w", id, err)
		}
		s.docs[id] = doc
		s.saved[id] = encodeKey(snap)
		snaps[id] = snap
	}
	return snaps, rows.Err()
}

// SaveAll overwrites the whole table with the given snapshots: changed
// projects are rewritten, unchanged ones skipped, and rows for projects no
// longer present are removed. Last writer wins.
func (s *Store) SaveAll(snaps map[string]project.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer tx.Rollback()

	for id, snap := range snaps {
		key := encodeKey(snap)
		if s.saved[id] == key {
			continue
		}
		doc, found := s.docs[id]
		if !found {
			doc = automerge.New()
			s.docs[id] = doc
		}
		if err := setSnapshot(doc, snap); err != nil {
			return fmt.Errorf("failed to update doc %s: %w", id, err)
		}
		content := base64.StdEncoding.EncodeToString(doc.Save())
		if _, err := tx.Exec(
			`INSERT INTO projects (id, content) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET content = excluded.content`,
			id, content,
		); err != nil {
			return fmt.Errorf("failed to upsert project %s: %w", id, err)
		}
		s.saved[id] = key
	}

	for id := range s.docs {
		if _, keep := snaps[id]; keep {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete project %s: %w", id, err)
		}
		delete(s.docs, id)
		delete(s.saved, id)
	}

	return tx.Commit()
}

// History returns a fork of a project's snapshot document, carrying the
// full change history, for rendering or inspection.
func (s *Store) History(id string) (*automerge.Doc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, found := s.docs[id]
	if !found {
		return nil, false
	}
	fork, err := doc.Fork()
	if err != nil {
		return nil, false
	}
	return fork, true
}

// encodeKey is a stable fingerprint of a snapshot, used to skip writes for
// unchanged projects.
func encodeKey(snap project.Snapshot) string {
	b, err := json.Marshal(snap)
	if err != nil {
		return ""
	}
	return string(b)
}

func setSnapshot(doc *automerge.Doc, snap project.Snapshot) error {
	files := make(map[string]interface{}, len(snap.Files))
	for name, f := range snap.Files {
		files[name] = map[string]interface{}{
			"content":      f.Content,
			"version":      f.Version,
			"lastModified": f.LastModified,
			"isAsset":      f.IsAsset,
			"assetPath":    f.AssetPath,
		}
	}
	fields := map[string]interface{}{
		"id":       snap.ID,
		"name":     snap.Name,
		"files":    files,
		"folders":  snap.Folders,
		"compiler": snap.Compiler,
		"mainFile": snap.MainFile,
		"created":  snap.Created,
		"updated":  snap.Updated,
	}
	for _, key := range snapshotKeys {
		if err := doc.Path(key).Set(fields[key]); err != nil {
			return err
		}
	}
	return nil
}

func decodeSnapshot(doc *automerge.Doc) (project.Snapshot, error) {
	fields := map[string]interface{}{}
	for _, key := range snapshotKeys {
		v, err := doc.Path(key).Get()
		if err != nil {
			continue
		}
		fields[key] = v.Interface()
	}
	// Round-trip through JSON so the automerge value tree lands in the
	// typed snapshot without per-field plumbing.
	buf, err := json.Marshal(fields)
	if err != nil {
		return project.Snapshot{}, err
	}
	var snap project.Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return project.Snapshot{}, err
	}
	return snap, nil
}

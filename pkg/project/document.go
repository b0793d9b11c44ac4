package project

import (
	"errors"
	"time"

	"github.com/webtexlab/webtexd/pkg/ot"
)

// historyLimit bounds the per-document patch history kept for transforming
// late edits. Clients further behind than this must resync.
const historyLimit = 256

var (
	// ErrNotEditable is returned for edits targeting a binary asset entry.
	ErrNotEditable = errors.New("file is a binary asset")
	// ErrUnknownFile is returned for operations on files absent from the
	// session.
	ErrUnknownFile = errors.New("no such file in project")
)

// Document is the versioned text of one file within a session. A document
// is owned by its session and must only be mutated by the event loop
// handling that session.
type Document struct {
	Content      string
	Version      int64
	LastModified time.Time

	// Binary uploads are tracked as stand-in entries with no content.
	IsAsset   bool
	AssetPath string

	history *ot.Log
}

// NewDocument returns an empty text document at version 1.
func NewDocument(content string) *Document {
	return &Document{
		Content:      content,
		Version:      1,
		LastModified: time.Now(),
		history:      ot.NewLog(1, historyLimit),
	}
}

// NewAsset returns a stand-in document for a binary upload.
func NewAsset(assetPath string) *Document {
	return &Document{
		IsAsset:      true,
		AssetPath:    assetPath,
		Version:      1,
		LastModified: time.Now(),
		history:      ot.NewLog(1, historyLimit),
	}
}

// ApplyEdit transforms ops issued against version base over every patch
// accepted since, applies them, and bumps the version. It returns the ops
// as applied, which is what must be broadcast for replicas to converge.
// ot.ErrStale is returned when base predates the retained history, in which
// case the submitter needs a full resync.
func (d *Document) ApplyEdit(origin string, base int64, ops []ot.Op) ([]ot.Op, error) {
	if d.IsAsset {
		return nil, ErrNotEditable
	}
	missed, err := d.history.Since(base)
	if err != nil {
		return nil, err
	}
	for _, p := range missed {
		ops, _ = ot.TransformPatch(ops, p.Ops)
	}
	content, err := ot.Apply(d.Content, ops)
	if err != nil {
		return nil, err
	}
	d.Content = content
	d.Version++
	d.LastModified = time.Now()
	if err := d.history.Append(d.Version, ot.Patch{Origin: origin, Ops: ops}); err != nil {
		return nil, err
	}
	return ops, nil
}

// Overwrite replaces the whole content, bumps the version, and discards the
// patch history: edits parented on older versions can no longer be
// transformed across the overwrite and will be rejected as stale.
func (d *Document) Overwrite(content string) {
	d.Content = content
	d.Version++
	d.LastModified = time.Now()
	d.history.Reset(d.Version)
}

// restore rebuilds a document from persisted state. History restarts empty
// at the persisted version, so reconnecting clients with in-flight edits
// are pushed through the resync path.
func restore(f FileSnapshot) *Document {
	return &Document{
		Content:      f.Content,
		Version:      f.Version,
		LastModified: time.UnixMilli(f.LastModified),
		IsAsset:      f.IsAsset,
		AssetPath:    f.AssetPath,
		history:      ot.NewLog(f.Version, historyLimit),
	}
}

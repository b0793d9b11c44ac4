// Package project holds the in-memory data model for a collaborative
// project: versioned documents, folders, settings, and the presence of
// connected users. Sessions carry no locking of their own; all mutation
// happens inside the owning event loop (see pkg/engine).
package project

import (
	"errors"
	"sort"
	"time"

	"github.com/webtexlab/webtexd/pkg/ot"
)

var (
	// ErrProtectedFile guards the project main file against deletion and
	// renaming.
	ErrProtectedFile = errors.New("cannot remove the project main file")
	// ErrFileExists is returned when a rename target is already taken.
	ErrFileExists = errors.New("target file already exists")
)

// Session is one project's authoritative state: its documents keyed by
// filename, its folder set, compile settings, and connected users.
type Session struct {
	ID       string
	Name     string
	Files    map[string]*Document
	Folders  []string
	MainFile string
	Compiler string
	Presence map[string]*Presence
	Created  time.Time
	Updated  time.Time
}

// New returns a session seeded with a single main document so the invariant
// that Files is never empty holds from birth.
func New(id, name string) *Session {
	now := time.Now()
	return &Session{
		ID:       id,
		Name:     name,
		Files:    map[string]*Document{DefaultMainFile: NewDocument(DefaultMainContent)},
		Folders:  []string{},
		MainFile: DefaultMainFile,
		Compiler: DefaultCompiler,
		Presence: map[string]*Presence{},
		Created:  now,
		Updated:  now,
	}
}

func (s *Session) touch() {
	s.Updated = time.Now()
}

// ApplyEdit applies a compound edit to the named file. See Document.ApplyEdit.
func (s *Session) ApplyEdit(connID, file string, base int64, ops []ot.Op) ([]ot.Op, *Document, error) {
	doc, found := s.Files[file]
	if !found {
		return nil, nil, ErrUnknownFile
	}
	applied, err := doc.ApplyEdit(connID, base, ops)
	if err != nil {
		return nil, doc, err
	}
	s.touch()
	return applied, doc, nil
}

// SyncContent is the authoritative full-content overwrite used to force
// convergence. Last writer wins; see Document.Overwrite.
func (s *Session) SyncContent(file, content string) (*Document, error) {
	doc, found := s.Files[file]
	if !found {
		return nil, ErrUnknownFile
	}
	if doc.IsAsset {
		return nil, ErrNotEditable
	}
	doc.Overwrite(content)
	s.touch()
	return doc, nil
}

// CreateFile inserts a new empty document. It is idempotent: creating an
// existing name changes nothing and reports created=false.
func (s *Session) CreateFile(name string) (created bool) {
	if _, found := s.Files[name]; found {
		return false
	}
	s.Files[name] = NewDocument("")
	s.touch()
	return true
}

// AddFile inserts or replaces a document wholesale, used by the upload and
// import flows.
func (s *Session) AddFile(name string, doc *Document) {
	s.Files[name] = doc
	s.touch()
}

// DeleteFile removes a document. The main file is protected.
func (s *Session) DeleteFile(name string) error {
	if name == s.MainFile {
		return ErrProtectedFile
	}
	if _, found := s.Files[name]; !found {
		return ErrUnknownFile
	}
	delete(s.Files, name)
	s.touch()
	return nil
}

// RenameFile moves a document to a new name. The main file is protected,
// the source must exist, and the destination must be free.
func (s *Session) RenameFile(oldName, newName string) error {
	if oldName == s.MainFile {
		return ErrProtectedFile
	}
	doc, found := s.Files[oldName]
	if !found {
		return ErrUnknownFile
	}
	if _, taken := s.Files[newName]; taken {
		return ErrFileExists
	}
	delete(s.Files, oldName)
	s.Files[newName] = doc
	s.touch()
	return nil
}

// CreateFolder appends a folder path. Idempotent.
func (s *Session) CreateFolder(path string) (created bool) {
	for _, f := range s.Folders {
		if f == path {
			return false
		}
	}
	s.Folders = append(s.Folders, path)
	s.touch()
	return true
}

// SetSettings updates the mutable project settings. Empty fields are left
// untouched. mainFile must name an existing file.
func (s *Session) SetSettings(name, compiler, mainFile string) error {
	if mainFile != "" {
		if _, found := s.Files[mainFile]; !found {
			return ErrUnknownFile
		}
	}
	if name != "" {
		s.Name = name
	}
	if compiler != "" {
		s.Compiler = compiler
	}
	if mainFile != "" {
		s.MainFile = mainFile
	}
	s.touch()
	return nil
}

// FileNames returns the session's filenames sorted for stable output.
func (s *Session) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for name := range s.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package project

import "time"

// FileSnapshot is the persisted form of one document. Timestamps are Unix
// milliseconds.
type FileSnapshot struct {
	Content      string `json:"content"`
	Version      int64  `json:"version"`
	LastModified int64  `json:"lastModified"`
	IsAsset      bool   `json:"isAsset,omitempty"`
	AssetPath    string `json:"assetPath,omitempty"`
}

// Snapshot is the persisted form of a session: everything except presence
// and patch history, which are meaningless across a restart.
type Snapshot struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Files    map[string]FileSnapshot `json:"files"`
	Folders  []string                `json:"folders"`
	Compiler string                  `json:"compiler"`
	MainFile string                  `json:"mainFile"`
	Created  int64                   `json:"created"`
	Updated  int64                   `json:"updated"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FileCount int    `json:"fileCount"`
	UserCount int    `json:"userCount"`
	Compiler  string `json:"compiler"`
	MainFile  string `json:"mainFile"`
	Created   int64  `json:"created"`
	Updated   int64  `json:"updated"`
}

// Snapshot captures the session's non-transient state.
func (s *Session) Snapshot() Snapshot {
	files := make(map[string]FileSnapshot, len(s.Files))
	for name, doc := range s.Files {
		files[name] = FileSnapshot{
			Content:      doc.Content,
			Version:      doc.Version,
			LastModified: doc.LastModified.UnixMilli(),
			IsAsset:      doc.IsAsset,
			AssetPath:    doc.AssetPath,
		}
	}
	folders := make([]string, len(s.Folders))
	copy(folders, s.Folders)
	return Snapshot{
		ID:       s.ID,
		Name:     s.Name,
		Files:    files,
		Folders:  folders,
		Compiler: s.Compiler,
		MainFile: s.MainFile,
		Created:  s.Created.UnixMilli(),
		Updated:  s.Updated.UnixMilli(),
	}
}

// Summary captures the listing view.
func (s *Session) Summary() Summary {
	return Summary{
		ID:        s.ID,
		Name:      s.Name,
		FileCount: len(s.Files),
		UserCount: len(s.Presence),
		Compiler:  s.Compiler,
		MainFile:  s.MainFile,
		Created:   s.Created.UnixMilli(),
		Updated:   s.Updated.UnixMilli(),
	}
}

// FromSnapshot rebuilds a session from its persisted form. Presence starts
// empty and every document's patch history restarts at its persisted
// version.
func FromSnapshot(snap Snapshot) *Session {
	files := make(map[string]*Document, len(snap.Files))
	for name, f := range snap.Files {
		files[name] = restore(f)
	}
	folders := snap.Folders
	if folders == nil {
		folders = []string{}
	}
	s := &Session{
		ID:       snap.ID,
		Name:     snap.Name,
		Files:    files,
		Folders:  folders,
		MainFile: snap.MainFile,
		Compiler: snap.Compiler,
		Presence: map[string]*Presence{},
		Created:  time.UnixMilli(snap.Created),
		Updated:  time.UnixMilli(snap.Updated),
	}
	if s.MainFile == "" {
		s.MainFile = DefaultMainFile
	}
	if s.Compiler == "" {
		s.Compiler = DefaultCompiler
	}
	if len(s.Files) == 0 {
		s.Files[s.MainFile] = NewDocument(DefaultMainContent)
	}
	return s
}

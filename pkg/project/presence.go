package project

import "math/rand"

// palette holds the display colors handed to users that join without one.
var palette = []string{
	"#e91e63", "#9c27b0", "#673ab7", "#3f51b5",
	"#2196f3", "#00bcd4", "#009688", "#4caf50",
	"#ff9800", "#ff5722", "#795548", "#607d8b",
}

// RandomColor picks a display color from the palette.
func RandomColor() string {
	return palette[rand.Intn(len(palette))]
}

// Cursor is a user's caret position within a file.
type Cursor struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Presence is a connected user's transient editing state. It lives exactly
// as long as its connection and is never persisted.
type Presence struct {
	ConnID      string  `json:"id"`
	Username    string  `json:"username"`
	Color       string  `json:"color"`
	CurrentFile string  `json:"currentFile"`
	Cursor      *Cursor `json:"cursor,omitempty"`
	CursorFile  string  `json:"cursorFile,omitempty"`
}

// Join registers a connection with the session. Missing identity fields are
// filled in: a palette color and the session main file as the starting file.
func (s *Session) Join(connID, username, color string) *Presence {
	if color == "" {
		color = RandomColor()
	}
	p := &Presence{
		ConnID:      connID,
		Username:    username,
		Color:       color,
		CurrentFile: s.MainFile,
	}
	s.Presence[connID] = p
	return p
}

// Leave removes a connection's presence.
func (s *Session) Leave(connID string) {
	delete(s.Presence, connID)
}

// SetCursor records where a connection's caret is. The file need not match
// the user's current file; recipients filter by what they are viewing.
func (s *Session) SetCursor(connID, file string, cursor Cursor) *Presence {
	p := s.Presence[connID]
	if p == nil {
		return nil
	}
	p.CursorFile = file
	c := cursor
	p.Cursor = &c
	return p
}

// SwitchFile records which file a connection is viewing.
func (s *Session) SwitchFile(connID, file string) *Presence {
	p := s.Presence[connID]
	if p == nil {
		return nil
	}
	p.CurrentFile = file
	return p
}

// Users returns the connected users in no particular order.
func (s *Session) Users() []*Presence {
	users := make([]*Presence, 0, len(s.Presence))
	for _, p := range s.Presence {
		users = append(users, p)
	}
	return users
}

package engine

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/webtexlab/webtexd/pkg/project"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

// recv pulls the next frame off a client's send queue.
func recv(t *testing.T, c *client) Frame {
	t.Helper()
	select {
	case msg, open := <-c.send:
		if !open {
			t.Fatal("send channel closed")
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatal(err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func recvEvent(t *testing.T, c *client, event string, v interface{}) {
	t.Helper()
	f := recv(t, c)
	if f.Event != event {
		t.Fatalf("got event %q, want %q", f.Event, event)
	}
	if v != nil {
		if err := json.Unmarshal(f.Data, v); err != nil {
			t.Fatal(err)
		}
	}
}

func frame(t *testing.T, event string, data interface{}) Frame {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return Frame{Event: event, Data: raw}
}

func submit(t *testing.T, r *Room, c *client, event string, data interface{}) {
	t.Helper()
	if err := r.Submit(c, frame(t, event, data)); err != nil {
		t.Fatal(err)
	}
}

func join(t *testing.T, r *Room, username string) *client {
	t.Helper()
	c := newClient(nil, username, "")
	if err := r.Join(c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestJoinAndPresence(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")

	c1 := join(t, room, "ada")
	var pd ProjectData
	recvEvent(t, c1, "project-data", &pd)
	if pd.ProjectID != "p1" {
		t.Fatalf("got project id %q", pd.ProjectID)
	}
	if pd.MainFile != project.DefaultMainFile {
		t.Fatalf("got main file %q", pd.MainFile)
	}
	fd, found := pd.Files[pd.MainFile]
	if !found || fd.Content == nil || *fd.Content != project.DefaultMainContent {
		t.Fatal("main file content missing from join payload")
	}
	if len(pd.Users) != 1 {
		t.Fatalf("got %d users, want 1", len(pd.Users))
	}

	c2 := join(t, room, "grace")
	recvEvent(t, c2, "project-data", &pd)
	if len(pd.Users) != 2 {
		t.Fatalf("got %d users, want 2", len(pd.Users))
	}

	var joined struct {
		User project.Presence `json:"user"`
	}
	recvEvent(t, c1, "user-joined", &joined)
	if joined.User.Username != "grace" {
		t.Fatalf("got username %q", joined.User.Username)
	}
	if joined.User.Color == "" {
		t.Fatal("joined user has no color")
	}

	room.Leave(c2)
	var left struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	recvEvent(t, c1, "user-left", &left)
	if left.UserID != c2.id || left.Username != "grace" {
		t.Fatalf("got %+v", left)
	}
}

func TestDocChangeBroadcastAndSyncOverride(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	if err := room.Do(func(s *project.Session) error {
		s.Files["doc.tex"] = project.NewDocument("A")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)
	c2 := join(t, room, "grace")
	recvEvent(t, c2, "project-data", nil)
	recvEvent(t, c1, "user-joined", nil)

	submit(t, room, c1, "doc-change", docChangeData{
		File:        "doc.tex",
		Ops:         []RangeOp{{From: 0, To: 0, InsertedText: "X", Kind: "+input"}},
		BaseVersion: 1,
	})

	var change struct {
		File    string    `json:"file"`
		Ops     []RangeOp `json:"ops"`
		Version int64     `json:"version"`
		UserID  string    `json:"userId"`
	}
	recvEvent(t, c2, "doc-change", &change)
	if change.File != "doc.tex" || change.Version != 2 || change.UserID != c1.id {
		t.Fatalf("got %+v", change)
	}
	if len(change.Ops) != 1 || change.Ops[0].InsertedText != "X" {
		t.Fatalf("got ops %+v", change.Ops)
	}

	// Full-content sync wins over the edit history.
	submit(t, room, c2, "doc-sync", docSyncData{File: "doc.tex", Content: "ZZZ"})
	var sync struct {
		File    string `json:"file"`
		Content string `json:"content"`
		Version int64  `json:"version"`
	}
	recvEvent(t, c1, "doc-sync", &sync)
	if sync.Content != "ZZZ" || sync.Version != 3 {
		t.Fatalf("got %+v", sync)
	}

	// An edit parented before the sync is stale; the submitter gets the
	// authoritative content back instead of a broadcast.
	submit(t, room, c1, "doc-change", docChangeData{
		File:        "doc.tex",
		Ops:         []RangeOp{{From: 0, To: 0, InsertedText: "Y", Kind: "+input"}},
		BaseVersion: 2,
	})
	recvEvent(t, c1, "doc-sync", &sync)
	if sync.Content != "ZZZ" || sync.Version != 3 {
		t.Fatalf("got %+v", sync)
	}
}

func TestDocChangeSkipsNonEditKinds(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)
	c2 := join(t, room, "grace")
	recvEvent(t, c2, "project-data", nil)
	recvEvent(t, c1, "user-joined", nil)

	submit(t, room, c1, "doc-change", docChangeData{
		File:        project.DefaultMainFile,
		Ops:         []RangeOp{{From: 0, To: 0, InsertedText: "X", Kind: "setValue"}},
		BaseVersion: 1,
	})
	// Nothing should have been applied or broadcast; the next frame c2 sees
	// is the chat message.
	submit(t, room, c1, "chat-message", chatMessageData{Text: "hi"})
	var chat struct {
		Message string `json:"message"`
	}
	recvEvent(t, c2, "chat-message", &chat)
	if chat.Message != "hi" {
		t.Fatalf("got %+v", chat)
	}
}

func TestRequestSync(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)

	submit(t, room, c1, "request-sync", fileRefData{File: project.DefaultMainFile})
	var sync struct {
		File    string `json:"file"`
		Content string `json:"content"`
		Version int64  `json:"version"`
	}
	recvEvent(t, c1, "doc-sync", &sync)
	if sync.File != project.DefaultMainFile || sync.Content != project.DefaultMainContent || sync.Version != 1 {
		t.Fatalf("got %+v", sync)
	}
}

func TestCreateFileBroadcastOnceToEveryone(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)
	c2 := join(t, room, "grace")
	recvEvent(t, c2, "project-data", nil)
	recvEvent(t, c1, "user-joined", nil)

	submit(t, room, c1, "create-file", filenameData{Filename: "appendix.tex"})
	var created struct {
		Filename string `json:"filename"`
	}
	recvEvent(t, c1, "file-created", &created)
	recvEvent(t, c2, "file-created", &created)
	if created.Filename != "appendix.tex" {
		t.Fatalf("got %+v", created)
	}

	// Repeating the creation is a no-op with no broadcast.
	submit(t, room, c1, "create-file", filenameData{Filename: "appendix.tex"})
	submit(t, room, c1, "chat-message", chatMessageData{Text: "done"})
	recvEvent(t, c1, "chat-message", nil)
	recvEvent(t, c2, "chat-message", nil)
}

func TestDeleteMainFileRejected(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)

	submit(t, room, c1, "delete-file", filenameData{Filename: project.DefaultMainFile})
	submit(t, room, c1, "create-folder", createFolderData{Path: "figures"})
	recvEvent(t, c1, "folder-created", nil)

	if err := room.Do(func(s *project.Session) error {
		if _, found := s.Files[s.MainFile]; !found {
			t.Error("main file was deleted")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestRenameFileBroadcast(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)

	submit(t, room, c1, "create-file", filenameData{Filename: "a.tex"})
	recvEvent(t, c1, "file-created", nil)
	submit(t, room, c1, "rename-file", renameFileData{OldName: "a.tex", NewName: "b.tex"})
	var renamed struct {
		OldName string `json:"oldName"`
		NewName string `json:"newName"`
	}
	recvEvent(t, c1, "file-renamed", &renamed)
	if renamed.OldName != "a.tex" || renamed.NewName != "b.tex" {
		t.Fatalf("got %+v", renamed)
	}
}

func TestCursorUpdateBroadcast(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)
	c2 := join(t, room, "grace")
	recvEvent(t, c2, "project-data", nil)
	recvEvent(t, c1, "user-joined", nil)

	submit(t, room, c2, "cursor-update", cursorUpdateData{
		File:   project.DefaultMainFile,
		Cursor: project.Cursor{Line: 4, Col: 2},
	})
	var cu struct {
		UserID string         `json:"userId"`
		File   string         `json:"file"`
		Cursor project.Cursor `json:"cursor"`
	}
	recvEvent(t, c1, "cursor-update", &cu)
	if cu.UserID != c2.id || cu.Cursor != (project.Cursor{Line: 4, Col: 2}) {
		t.Fatalf("got %+v", cu)
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)
	c2 := join(t, room, "grace")
	recvEvent(t, c2, "project-data", nil)
	recvEvent(t, c1, "user-joined", nil)

	// Jam c2's queue so the next broadcast cannot be enqueued.
	for c2.push([]byte("{}")) {
	}

	submit(t, room, c1, "chat-message", chatMessageData{Text: "hi"})
	recvEvent(t, c1, "chat-message", nil)

	// c2 was evicted: its queue drains the junk and then closes without ever
	// carrying the chat message.
	for {
		msg, open := <-c2.send
		if !open {
			break
		}
		if string(msg) != "{}" {
			t.Fatalf("dropped consumer received %s", msg)
		}
	}
}

// Eviction must look like any other departure to the remaining clients.
func TestEvictedUserBroadcastsLeave(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)
	c2 := join(t, room, "grace")
	recvEvent(t, c2, "project-data", nil)
	recvEvent(t, c1, "user-joined", nil)

	for c2.push([]byte("{}")) {
	}

	submit(t, room, c1, "chat-message", chatMessageData{Text: "hi"})
	recvEvent(t, c1, "chat-message", nil)

	var left struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	recvEvent(t, c1, "user-left", &left)
	if left.UserID != c2.id || left.Username != "grace" {
		t.Fatalf("got %+v", left)
	}

	if err := room.Do(func(s *project.Session) error {
		if _, found := s.Presence[c2.id]; found {
			t.Error("evicted user still present")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestJoinIncludesCursors(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)
	submit(t, room, c1, "cursor-update", cursorUpdateData{
		File:   project.DefaultMainFile,
		Cursor: project.Cursor{Line: 2, Col: 5},
	})

	c2 := join(t, room, "grace")
	var pd ProjectData
	recvEvent(t, c2, "project-data", &pd)
	state, found := pd.Cursors[c1.id]
	if !found {
		t.Fatalf("got cursors %+v", pd.Cursors)
	}
	if state.File != project.DefaultMainFile || state.Cursor == nil || *state.Cursor != (project.Cursor{Line: 2, Col: 5}) {
		t.Fatalf("got %+v", state)
	}
}

func TestProjectsOverSocket(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)

	submit(t, room, c1, "get-projects", struct{}{})
	var list []project.Summary
	recvEvent(t, c1, "projects-list", &list)
	if len(list) != 1 || list[0].ID != "p1" {
		t.Fatalf("got %+v", list)
	}

	submit(t, room, c1, "create-project", createProjectData{Name: "Second"})
	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	recvEvent(t, c1, "project-created", &created)
	if created.ID == "" || created.Name != "Second" {
		t.Fatalf("got %+v", created)
	}
	if _, found := reg.Get(created.ID); !found {
		t.Fatal("created project missing from registry")
	}

	submit(t, room, c1, "get-projects", struct{}{})
	recvEvent(t, c1, "projects-list", &list)
	if len(list) != 2 {
		t.Fatalf("got %d projects, want 2", len(list))
	}
}

func TestClosedRoom(t *testing.T) {
	reg := testRegistry()
	room := reg.GetOrCreate("p1")
	c1 := join(t, room, "ada")
	recvEvent(t, c1, "project-data", nil)

	room.Close()

	if err := room.Do(func(*project.Session) error { return nil }); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("got %v, want ErrRoomClosed", err)
	}
	if err := room.Join(newClient(nil, "late", "")); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("got %v, want ErrRoomClosed", err)
	}
	for {
		if _, open := <-c1.send; !open {
			return
		}
	}
}

func TestRegistryAttachAndDelete(t *testing.T) {
	reg := testRegistry()
	r1 := reg.GetOrCreate("p1")

	if got := reg.Attach("p1"); got != r1 {
		t.Fatal("attach by id returned a different room")
	}
	if got := reg.Attach(""); got != r1 {
		t.Fatal("attach without id should reuse the existing project")
	}

	r2 := reg.Create("Second", "empty")
	if r2 == r1 {
		t.Fatal("create returned the existing room")
	}
	if err := r2.Do(func(s *project.Session) error {
		if s.Files[s.MainFile].Content != project.EmptyMainContent {
			t.Error("empty template not applied")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := reg.Delete(r2.ID()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Delete(r2.ID()); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("got %v, want ErrUnknownProject", err)
	}
	if _, found := reg.Get(r2.ID()); found {
		t.Fatal("deleted project still listed")
	}
	snaps := reg.Snapshots()
	if _, found := snaps[r2.ID()]; found {
		t.Fatal("deleted project still snapshotted")
	}
}

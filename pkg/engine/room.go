package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/webtexlab/webtexd/pkg/ot"
	"github.com/webtexlab/webtexd/pkg/project"
)

// ErrRoomClosed is returned for operations against a deleted project.
var ErrRoomClosed = errors.New("project session closed")

type inbound struct {
	c     *client
	frame Frame
}

type task struct {
	fn    func(*project.Session) error
	reply chan error
}

// Room runs one project session's event loop. Every mutation — websocket
// frame or HTTP-submitted task — executes to completion inside run before
// the next is taken, which is what makes document versions a total order
// per file without any locking on the session itself.
type Room struct {
	id     string
	reg    *Registry
	logger *slog.Logger

	joinCh  chan *client
	leaveCh chan *client
	inbox   chan inbound
	tasks   chan task
	closed  chan struct{}

	// owned by run
	session *project.Session
	clients map[*client]bool
}

func newRoom(reg *Registry, session *project.Session, logger *slog.Logger) *Room {
	r := &Room{
		id:      session.ID,
		reg:     reg,
		logger:  logger.With("project", session.ID),
		joinCh:  make(chan *client),
		leaveCh: make(chan *client),
		inbox:   make(chan inbound),
		tasks:   make(chan task),
		closed:  make(chan struct{}),
		session: session,
		clients: map[*client]bool{},
	}
	go r.run()
	return r
}

// ID returns the project identifier.
func (r *Room) ID() string { return r.id }

func (r *Room) run() {
	for {
		select {
		case c := <-r.joinCh:
			r.handleJoin(c)
		case c := <-r.leaveCh:
			r.handleLeave(c)
		case in := <-r.inbox:
			r.handleFrame(in.c, in.frame)
		case t := <-r.tasks:
			t.reply <- t.fn(r.session)
		case <-r.closed:
			for c := range r.clients {
				delete(r.clients, c)
				close(c.send)
			}
			// Unblock any callers that raced with the close.
			for {
				select {
				case t := <-r.tasks:
					t.reply <- ErrRoomClosed
				case c := <-r.joinCh:
					close(c.send)
				case <-r.leaveCh:
				case <-r.inbox:
				default:
					return
				}
			}
		}
	}
}

// Join attaches a connection to the session.
func (r *Room) Join(c *client) error {
	select {
	case r.joinCh <- c:
		return nil
	case <-r.closed:
		return ErrRoomClosed
	}
}

// Leave detaches a connection. Safe to call for connections the room has
// already dropped.
func (r *Room) Leave(c *client) {
	select {
	case r.leaveCh <- c:
	case <-r.closed:
	}
}

// Submit hands an inbound frame to the event loop.
func (r *Room) Submit(c *client, f Frame) error {
	select {
	case r.inbox <- inbound{c: c, frame: f}:
		return nil
	case <-r.closed:
		return ErrRoomClosed
	}
}

// Do runs fn inside the event loop, serialized with every other mutation of
// the session.
func (r *Room) Do(fn func(*project.Session) error) error {
	t := task{fn: fn, reply: make(chan error, 1)}
	select {
	case r.tasks <- t:
		return <-t.reply
	case <-r.closed:
		return ErrRoomClosed
	}
}

// Notify broadcasts an event to every connection in the session.
func (r *Room) Notify(event string, data interface{}) {
	_ = r.Do(func(*project.Session) error {
		r.broadcast(event, data, nil)
		return nil
	})
}

// Close shuts the room down and disconnects everyone.
func (r *Room) Close() {
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
}

// broadcast fans an event out to every attached connection except the
// originator. A connection with a full send buffer is dropped rather than
// allowed to stall the loop; its departure is announced like any other so
// the remaining clients do not keep a ghost user.
func (r *Room) broadcast(event string, data interface{}, except *client) {
	msg, err := marshalFrame(event, data)
	if err != nil {
		r.logger.Error("failed to encode broadcast", "event", event, "err", err)
		return
	}
	var evicted []*client
	for c := range r.clients {
		if c == except {
			continue
		}
		if !c.push(msg) {
			r.logger.Warn("dropping slow consumer", "conn", c.id, "user", c.username)
			r.drop(c)
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		r.announceLeave(c)
	}
}

// send delivers an event to a single connection.
func (r *Room) send(c *client, event string, data interface{}) {
	msg, err := marshalFrame(event, data)
	if err != nil {
		r.logger.Error("failed to encode reply", "event", event, "err", err)
		return
	}
	if r.clients[c] && !c.push(msg) {
		r.drop(c)
		r.announceLeave(c)
	}
}

// drop detaches a connection without announcing it.
func (r *Room) drop(c *client) {
	delete(r.clients, c)
	r.session.Leave(c.id)
	close(c.send)
}

func (r *Room) announceLeave(c *client) {
	r.broadcast("user-left", map[string]interface{}{
		"userId":   c.id,
		"username": c.username,
	}, nil)
}

func (r *Room) handleJoin(c *client) {
	r.clients[c] = true
	p := r.session.Join(c.id, c.username, c.color)
	r.send(c, "project-data", projectData(r.session))
	r.broadcast("user-joined", map[string]interface{}{"user": p}, c)
	r.logger.Info("joined", "conn", c.id, "user", c.username)
}

func (r *Room) handleLeave(c *client) {
	if !r.clients[c] {
		return
	}
	r.drop(c)
	r.announceLeave(c)
	r.logger.Info("left", "conn", c.id, "user", c.username)
}

func (r *Room) handleFrame(c *client, f Frame) {
	if !r.clients[c] {
		return
	}
	var err error
	switch f.Event {
	case "doc-change":
		err = r.onDocChange(c, f.Data)
	case "doc-sync":
		err = r.onDocSync(c, f.Data)
	case "request-sync":
		err = r.onRequestSync(c, f.Data)
	case "cursor-update":
		err = r.onCursorUpdate(c, f.Data)
	case "selection-update":
		err = r.onSelectionUpdate(c, f.Data)
	case "switch-file":
		err = r.onSwitchFile(c, f.Data)
	case "create-file":
		err = r.onCreateFile(c, f.Data)
	case "delete-file":
		err = r.onDeleteFile(c, f.Data)
	case "rename-file":
		err = r.onRenameFile(c, f.Data)
	case "create-folder":
		err = r.onCreateFolder(c, f.Data)
	case "chat-message":
		err = r.onChatMessage(c, f.Data)
	case "get-projects":
		err = r.onGetProjects(c)
	case "create-project":
		err = r.onCreateProject(c, f.Data)
	default:
		r.logger.Debug("ignoring unknown event", "event", f.Event, "conn", c.id)
	}
	if err != nil {
		// Malformed or unapplicable events are dropped, never fatal.
		r.logger.Debug("dropped event", "event", f.Event, "conn", c.id, "err", err)
	}
}

// resync answers a connection with the authoritative content of a file,
// used both on explicit request and when an edit cannot be applied.
func (r *Room) resync(c *client, file string) {
	doc, found := r.session.Files[file]
	if !found || doc.IsAsset {
		return
	}
	r.send(c, "doc-sync", map[string]interface{}{
		"file":    file,
		"content": doc.Content,
		"version": doc.Version,
	})
}

func (r *Room) onDocChange(c *client, data []byte) error {
	var d docChangeData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	ops := toOps(d.Ops)
	if len(ops) == 0 {
		return nil
	}
	applied, doc, err := r.session.ApplyEdit(c.id, d.File, d.BaseVersion, ops)
	switch {
	case err == nil:
	case errors.Is(err, project.ErrUnknownFile), errors.Is(err, project.ErrNotEditable):
		return err
	case errors.Is(err, ot.ErrStale):
		// The client is too far behind to transform; hand it the full
		// content instead of corrupting its view.
		r.resync(c, d.File)
		return nil
	default:
		// Transformed ops failed to apply; treat the submitter as diverged.
		r.resync(c, d.File)
		return err
	}
	r.broadcast("doc-change", map[string]interface{}{
		"file":    d.File,
		"ops":     toRangeOps(applied),
		"version": doc.Version,
		"userId":  c.id,
	}, c)
	return nil
}

func (r *Room) onDocSync(c *client, data []byte) error {
	var d docSyncData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	doc, err := r.session.SyncContent(d.File, d.Content)
	if err != nil {
		return err
	}
	r.broadcast("doc-sync", map[string]interface{}{
		"file":    d.File,
		"content": doc.Content,
		"version": doc.Version,
		"userId":  c.id,
	}, c)
	return nil
}

func (r *Room) onRequestSync(c *client, data []byte) error {
	var d fileRefData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	r.resync(c, d.File)
	return nil
}

func (r *Room) onCursorUpdate(c *client, data []byte) error {
	var d cursorUpdateData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	p := r.session.SetCursor(c.id, d.File, d.Cursor)
	if p == nil {
		return nil
	}
	r.broadcast("cursor-update", map[string]interface{}{
		"userId": c.id,
		"file":   d.File,
		"cursor": d.Cursor,
		"user":   p,
	}, c)
	return nil
}

func (r *Room) onSelectionUpdate(c *client, data []byte) error {
	var d selectionUpdateData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	p := r.session.Presence[c.id]
	r.broadcast("selection-update", map[string]interface{}{
		"userId":    c.id,
		"file":      d.File,
		"selection": d.Selection,
		"user":      p,
	}, c)
	return nil
}

func (r *Room) onSwitchFile(c *client, data []byte) error {
	var d fileRefData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	if r.session.SwitchFile(c.id, d.File) == nil {
		return nil
	}
	r.broadcast("user-switch-file", map[string]interface{}{
		"userId": c.id,
		"file":   d.File,
	}, c)
	return nil
}

func (r *Room) onCreateFile(c *client, data []byte) error {
	var d filenameData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	if d.Filename == "" || !r.session.CreateFile(d.Filename) {
		return nil
	}
	r.reg.MarkDirty()
	// Everyone observes the creation, the originator included.
	r.broadcast("file-created", map[string]interface{}{
		"filename": d.Filename,
		"content":  "",
	}, nil)
	return nil
}

func (r *Room) onDeleteFile(c *client, data []byte) error {
	var d filenameData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	if err := r.session.DeleteFile(d.Filename); err != nil {
		return err
	}
	r.reg.MarkDirty()
	r.broadcast("file-deleted", map[string]interface{}{"filename": d.Filename}, nil)
	return nil
}

func (r *Room) onRenameFile(c *client, data []byte) error {
	var d renameFileData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	if err := r.session.RenameFile(d.OldName, d.NewName); err != nil {
		return err
	}
	r.reg.MarkDirty()
	r.broadcast("file-renamed", map[string]interface{}{
		"oldName": d.OldName,
		"newName": d.NewName,
	}, nil)
	return nil
}

func (r *Room) onCreateFolder(c *client, data []byte) error {
	var d createFolderData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	if d.Path == "" || !r.session.CreateFolder(d.Path) {
		return nil
	}
	r.reg.MarkDirty()
	r.broadcast("folder-created", map[string]interface{}{"folderPath": d.Path}, nil)
	return nil
}

func (r *Room) onChatMessage(c *client, data []byte) error {
	var d chatMessageData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	p := r.session.Presence[c.id]
	r.broadcast("chat-message", map[string]interface{}{
		"user":      p,
		"message":   d.Text,
		"timestamp": time.Now().UnixMilli(),
	}, nil)
	return nil
}

func (r *Room) onGetProjects(c *client) error {
	// Listing serializes through every room's loop, this one included, so it
	// cannot run inside the loop itself. The reply re-enters through a task
	// so membership is still checked by the loop.
	go func() {
		list := r.reg.List()
		_ = r.Do(func(*project.Session) error {
			r.send(c, "projects-list", list)
			return nil
		})
	}()
	return nil
}

func (r *Room) onCreateProject(c *client, data []byte) error {
	var d createProjectData
	if err := unmarshalData(data, &d); err != nil {
		return err
	}
	created := r.reg.Create(d.Name, "")
	name := d.Name
	if name == "" {
		name = project.DefaultProjectName
	}
	r.send(c, "project-created", map[string]string{
		"id":   created.ID(),
		"name": name,
	})
	return nil
}

func unmarshalData(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(data, v)
}

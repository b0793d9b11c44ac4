// Package ot implements operational transformation for plain text.
//
// Positions are byte offsets into the UTF-8 encoded document. A compound
// edit is an ordered slice of ops where each op is positioned against the
// text produced by the ops before it.
package ot

import (
	"errors"
	"fmt"
)

// Op is a single text operation.
type Op interface {
	// Apply returns the text produced by applying the op to s.
	Apply(s string) (string, error)
}

// Insert inserts Text at byte offset Pos.
type Insert struct {
	Pos  int
	Text string
}

func (op Insert) Apply(s string) (string, error) {
	if op.Pos < 0 || op.Pos > len(s) {
		return "", fmt.Errorf("insert at %d out of bounds (len %d)", op.Pos, len(s))
	}
	return s[:op.Pos] + op.Text + s[op.Pos:], nil
}

// Delete removes N bytes starting at byte offset Pos.
type Delete struct {
	Pos int
	N   int
}

func (op Delete) Apply(s string) (string, error) {
	if op.Pos < 0 || op.N < 0 || op.Pos+op.N > len(s) {
		return "", fmt.Errorf("delete [%d,%d) out of bounds (len %d)", op.Pos, op.Pos+op.N, len(s))
	}
	return s[:op.Pos] + s[op.Pos+op.N:], nil
}

// Replace expands a half-open range replacement into primitive ops.
func Replace(from, to int, text string) []Op {
	ops := make([]Op, 0, 2)
	if to > from {
		ops = append(ops, Delete{Pos: from, N: to - from})
	}
	if text != "" {
		ops = append(ops, Insert{Pos: from, Text: text})
	}
	return ops
}

// Apply runs ops in order against s.
func Apply(s string, ops []Op) (string, error) {
	var err error
	for _, op := range ops {
		if s, err = op.Apply(s); err != nil {
			return "", err
		}
	}
	return s, nil
}

func transformInsertDelete(a Insert, b Delete) (ap, bp Op) {
	switch {
	case a.Pos <= b.Pos:
		// Insert before the deleted range. Delete shifts forward.
		return a, Delete{b.Pos + len(a.Text), b.N}
	case a.Pos >= b.Pos+b.N:
		// Insert after the deleted range. Insert shifts backward.
		return Insert{a.Pos - b.N, a.Text}, b
	default:
		// Insert inside the deleted range. The delete grows to swallow the
		// inserted text and the insert collapses.
		return Insert{b.Pos, ""}, Delete{b.Pos, b.N + len(a.Text)}
	}
}

// Transform derives the bottom two sides of the OT diamond: given concurrent
// ops a and b issued against the same text, it returns a' (a rewritten to
// apply after b) and b' (b rewritten to apply after a). b wins ties, e.g.
// for equal-position inserts.
func Transform(a, b Op) (ap, bp Op) {
	switch at := a.(type) {
	case Insert:
		switch bt := b.(type) {
		case Insert:
			if bt.Pos <= at.Pos {
				return Insert{at.Pos + len(bt.Text), at.Text}, b
			}
			return a, Insert{bt.Pos + len(at.Text), bt.Text}
		case Delete:
			return transformInsertDelete(at, bt)
		}
	case Delete:
		switch bt := b.(type) {
		case Insert:
			ins, del := transformInsertDelete(bt, at)
			return del, ins
		case Delete:
			aEnd, bEnd := at.Pos+at.N, bt.Pos+bt.N
			if aEnd <= bt.Pos {
				return a, Delete{bt.Pos - at.N, bt.N}
			}
			if bEnd <= at.Pos {
				return Delete{at.Pos - bt.N, at.N}, b
			}
			// Overlapping deletions shrink by the shared region.
			pos := min(at.Pos, bt.Pos)
			overlap := min(aEnd, bEnd) - max(at.Pos, bt.Pos)
			return Delete{pos, at.N - overlap}, Delete{pos, bt.N - overlap}
		}
	}
	return nil, nil
}

// TransformPatch transforms compound edit a over compound edit b, both
// issued against the same text, returning a' and b'.
func TransformPatch(a, b []Op) (ap, bp []Op) {
	ap = make([]Op, len(a))
	bp = make([]Op, len(b))
	copy(ap, a)
	for i, bOp := range b {
		for j, aOp := range ap {
			ap[j], bOp = Transform(aOp, bOp)
		}
		bp[i] = bOp
	}
	return ap, bp
}

// ErrStale marks an edit whose base version predates the retained history.
var ErrStale = errors.New("base version predates retained history")

// Patch is a compound edit that was accepted into a document.
type Patch struct {
	Origin string // connection that produced the patch
	Ops    []Op
}

// Log is a bounded history of accepted patches, used to transform incoming
// edits issued against older versions of the document. Patch i in the log
// produced document version floor+i+1.
type Log struct {
	floor   int64 // version below which history has been discarded
	patches []Patch
	limit   int
}

// NewLog returns a history starting at version floor. At most limit patches
// are retained; older ones are discarded and edits based below the retained
// range are rejected as stale.
func NewLog(floor int64, limit int) *Log {
	return &Log{floor: floor, limit: limit}
}

// Floor returns the oldest base version the log can still transform against.
func (l *Log) Floor() int64 { return l.floor }

// Append records a patch that produced version v. v must be the next version
// in sequence.
func (l *Log) Append(v int64, p Patch) error {
	if want := l.floor + int64(len(l.patches)) + 1; v != want {
		return fmt.Errorf("patch version %d out of sequence (want %d)", v, want)
	}
	l.patches = append(l.patches, p)
	if len(l.patches) > l.limit {
		drop := len(l.patches) - l.limit
		l.patches = append(l.patches[:0], l.patches[drop:]...)
		l.floor += int64(drop)
	}
	return nil
}

// Since returns the patches applied after version base, oldest first.
// It returns ErrStale when base predates the retained history.
func (l *Log) Since(base int64) ([]Patch, error) {
	if base < l.floor {
		return nil, ErrStale
	}
	idx := base - l.floor
	if idx > int64(len(l.patches)) {
		return nil, fmt.Errorf("base version %d is ahead of history", base)
	}
	return l.patches[idx:], nil
}

// Reset discards all history and restarts the log at version floor. Used
// after a full-content overwrite, after which positional edits issued
// against earlier versions can no longer be transformed.
func (l *Log) Reset(floor int64) {
	l.floor = floor
	l.patches = l.patches[:0]
}

package project_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/webtexlab/webtexd/pkg/ot"
	"github.com/webtexlab/webtexd/pkg/project"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestNewSessionInvariants(t *testing.T) {
	s := project.New("p1", "Test")
	eq(t, len(s.Files), 1)
	doc, found := s.Files[s.MainFile]
	if !found {
		t.Fatal("main file missing from files")
	}
	eq(t, doc.Version, int64(1))
	eq(t, s.Compiler, project.DefaultCompiler)
}

func TestApplyEditVersionCounting(t *testing.T) {
	s := project.New("p1", "Test")
	doc, _ := s.Files[s.MainFile]
	doc.Content = "A"

	for i := 0; i < 5; i++ {
		_, d, err := s.ApplyEdit("c1", s.MainFile, doc.Version, ot.Replace(0, 0, "x"))
		ok(t, err)
		eq(t, d.Version, int64(2+i))
	}
	eq(t, doc.Content, "xxxxxA")
}

func TestApplyEditUnknownFile(t *testing.T) {
	s := project.New("p1", "Test")
	_, _, err := s.ApplyEdit("c1", "nope.tex", 1, ot.Replace(0, 0, "x"))
	if !errors.Is(err, project.ErrUnknownFile) {
		t.Fatalf("got %v, want ErrUnknownFile", err)
	}
}

// Two clients editing from the same base version must both land, with the
// second transformed over the first.
func TestApplyEditConcurrent(t *testing.T) {
	s := project.New("p1", "Test")
	s.Files["doc.tex"] = project.NewDocument("hello world")

	_, d, err := s.ApplyEdit("c1", "doc.tex", 1, ot.Replace(0, 0, "say: "))
	ok(t, err)
	eq(t, d.Content, "say: hello world")
	eq(t, d.Version, int64(2))

	// c2 still thinks the text is "hello world" and appends at offset 11.
	_, d, err = s.ApplyEdit("c2", "doc.tex", 1, ot.Replace(11, 11, "!"))
	ok(t, err)
	eq(t, d.Content, "say: hello world!")
	eq(t, d.Version, int64(3))
}

func TestOverwriteRejectsStaleEdits(t *testing.T) {
	s := project.New("p1", "Test")
	s.Files["doc.tex"] = project.NewDocument("A")

	_, _, err := s.ApplyEdit("c1", "doc.tex", 1, ot.Replace(0, 0, "X"))
	ok(t, err)

	d, err := s.SyncContent("doc.tex", "ZZZ")
	ok(t, err)
	eq(t, d.Version, int64(3))
	eq(t, d.Content, "ZZZ")

	// An edit parented before the overwrite cannot be transformed across it.
	_, _, err = s.ApplyEdit("c2", "doc.tex", 2, ot.Replace(0, 0, "Y"))
	if !errors.Is(err, ot.ErrStale) {
		t.Fatalf("got %v, want ErrStale", err)
	}
	eq(t, d.Content, "ZZZ")
	eq(t, d.Version, int64(3))
}

func TestCreateFileIdempotent(t *testing.T) {
	s := project.New("p1", "Test")
	eq(t, s.CreateFile("appendix.tex"), true)
	before := len(s.Files)
	eq(t, s.CreateFile("appendix.tex"), false)
	eq(t, len(s.Files), before)
}

func TestDeleteFileProtectsMain(t *testing.T) {
	s := project.New("p1", "Test")
	s.CreateFile("other.tex")

	if err := s.DeleteFile(s.MainFile); !errors.Is(err, project.ErrProtectedFile) {
		t.Fatalf("got %v, want ErrProtectedFile", err)
	}
	if _, found := s.Files[s.MainFile]; !found {
		t.Fatal("main file was removed")
	}
	ok(t, s.DeleteFile("other.tex"))
	if err := s.DeleteFile("other.tex"); !errors.Is(err, project.ErrUnknownFile) {
		t.Fatalf("got %v, want ErrUnknownFile", err)
	}
}

func TestRenameFile(t *testing.T) {
	s := project.New("p1", "Test")
	s.CreateFile("a.tex")
	s.CreateFile("b.tex")

	if err := s.RenameFile(s.MainFile, "c.tex"); !errors.Is(err, project.ErrProtectedFile) {
		t.Fatalf("got %v, want ErrProtectedFile", err)
	}
	if err := s.RenameFile("missing.tex", "c.tex"); !errors.Is(err, project.ErrUnknownFile) {
		t.Fatalf("got %v, want ErrUnknownFile", err)
	}
	if err := s.RenameFile("a.tex", "b.tex"); !errors.Is(err, project.ErrFileExists) {
		t.Fatalf("got %v, want ErrFileExists", err)
	}
	ok(t, s.RenameFile("a.tex", "c.tex"))
	if _, found := s.Files["a.tex"]; found {
		t.Fatal("old name still present")
	}
	if _, found := s.Files["c.tex"]; !found {
		t.Fatal("new name missing")
	}
}

func TestCreateFolderIdempotent(t *testing.T) {
	s := project.New("p1", "Test")
	eq(t, s.CreateFolder("figures"), true)
	eq(t, s.CreateFolder("figures"), false)
	eq(t, s.Folders, []string{"figures"})
}

func TestSetSettings(t *testing.T) {
	s := project.New("p1", "Test")
	s.CreateFile("paper.tex")

	if err := s.SetSettings("", "", "missing.tex"); !errors.Is(err, project.ErrUnknownFile) {
		t.Fatalf("got %v, want ErrUnknownFile", err)
	}
	ok(t, s.SetSettings("Renamed", "pdflatex", "paper.tex"))
	eq(t, s.Name, "Renamed")
	eq(t, s.Compiler, "pdflatex")
	eq(t, s.MainFile, "paper.tex")
}

func TestPresenceLifecycle(t *testing.T) {
	s := project.New("p1", "Test")
	p := s.Join("conn1", "ada", "")
	if p.Color == "" {
		t.Fatal("join did not assign a color")
	}
	eq(t, p.CurrentFile, s.MainFile)

	s.CreateFile("notes.tex")
	eq(t, s.SwitchFile("conn1", "notes.tex").CurrentFile, "notes.tex")

	p2 := s.SetCursor("conn1", "notes.tex", project.Cursor{Line: 3, Col: 7})
	eq(t, *p2.Cursor, project.Cursor{Line: 3, Col: 7})

	if s.SetCursor("ghost", "notes.tex", project.Cursor{}) != nil {
		t.Fatal("cursor update for unknown connection should be dropped")
	}

	s.Leave("conn1")
	eq(t, len(s.Presence), 0)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := project.New("p1", "Test")
	s.CreateFile("chapter.tex")
	_, _, err := s.ApplyEdit("c1", "chapter.tex", 1, ot.Replace(0, 0, "hi"))
	ok(t, err)
	s.CreateFolder("figures")
	s.AddFile("figures/plot.png", project.NewAsset("/uploads/p1/figures/plot.png"))
	s.Join("conn1", "ada", "#fff")

	snap := s.Snapshot()
	restored := project.FromSnapshot(snap)

	eq(t, restored.ID, s.ID)
	eq(t, restored.Name, s.Name)
	eq(t, restored.MainFile, s.MainFile)
	eq(t, restored.Folders, s.Folders)
	eq(t, len(restored.Files), len(s.Files))
	eq(t, restored.Files["chapter.tex"].Content, "hi")
	eq(t, restored.Files["chapter.tex"].Version, int64(2))
	eq(t, restored.Files["figures/plot.png"].IsAsset, true)
	// Presence never survives a restart.
	eq(t, len(restored.Presence), 0)
}

// After a restart, versions resume where they left off and in-flight edits
// from before the restart are forced through resync.
func TestRestoredDocumentRejectsOldBase(t *testing.T) {
	s := project.New("p1", "Test")
	s.Files["doc.tex"] = project.NewDocument("A")
	_, _, err := s.ApplyEdit("c1", "doc.tex", 1, ot.Replace(0, 0, "B"))
	ok(t, err)

	restored := project.FromSnapshot(s.Snapshot())
	_, _, err = restored.ApplyEdit("c2", "doc.tex", 1, ot.Replace(0, 0, "C"))
	if !errors.Is(err, ot.ErrStale) {
		t.Fatalf("got %v, want ErrStale", err)
	}

	_, d, err := restored.ApplyEdit("c2", "doc.tex", 2, ot.Replace(0, 0, "C"))
	ok(t, err)
	eq(t, d.Content, "CBA")
	eq(t, d.Version, int64(3))
}

package assets_test

import (
	"errors"
	"os"
	"testing"

	"github.com/webtexlab/webtexd/pkg/assets"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestIsTextPath(t *testing.T) {
	for _, name := range []string{"main.tex", "refs.bib", "style.STY", "notes.md", "figures/data.csv"} {
		if !assets.IsTextPath(name) {
			t.Errorf("%s should be text", name)
		}
	}
	for _, name := range []string{"plot.png", "paper.pdf", "archive.zip", "font.ttf", "noextension"} {
		if assets.IsTextPath(name) {
			t.Errorf("%s should be binary", name)
		}
	}
}

func TestPutGetPurge(t *testing.T) {
	st, err := assets.NewStore(t.TempDir())
	ok(t, err)

	ok(t, st.Put("p1", "figures/plot.png", []byte("png-bytes")))
	got, err := st.Get("p1", "figures/plot.png")
	ok(t, err)
	if string(got) != "png-bytes" {
		t.Fatalf("got %q", got)
	}

	// Other projects do not see it.
	if _, err := st.Get("p2", "figures/plot.png"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want not-exist", err)
	}

	ok(t, st.Purge("p1"))
	if _, err := st.Get("p1", "figures/plot.png"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v after purge, want not-exist", err)
	}
}

func TestRejectsEscapingPaths(t *testing.T) {
	st, err := assets.NewStore(t.TempDir())
	ok(t, err)

	for _, path := range []string{"../outside.png", "a/../../outside.png", "/etc/passwd", "."} {
		if err := st.Put("p1", path, []byte("x")); !errors.Is(err, assets.ErrBadPath) {
			t.Errorf("put %q: got %v, want ErrBadPath", path, err)
		}
		if _, err := st.Get("p1", path); !errors.Is(err, assets.ErrBadPath) {
			t.Errorf("get %q: got %v, want ErrBadPath", path, err)
		}
	}
	if err := st.Purge(""); !errors.Is(err, assets.ErrBadPath) {
		t.Fatalf("got %v, want ErrBadPath", err)
	}
}

func TestURL(t *testing.T) {
	st, err := assets.NewStore(t.TempDir())
	ok(t, err)
	if got := st.URL("p1", "figures/plot.png"); got != "/uploads/p1/figures/plot.png" {
		t.Fatalf("got %q", got)
	}
}

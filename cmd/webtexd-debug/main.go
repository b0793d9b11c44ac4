// Command webtexd-debug inspects the projects database offline: it lists the
// persisted projects and dumps one project's snapshot change history, either
// as a log or rendered to SVG.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/webtexlab/webtexd/pkg/store"
	"github.com/webtexlab/webtexd/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	projectVar := flag.String("project", "", "project id to dump the change history of")
	svgVar := flag.String("svg", "", "write the change graph as SVG to this file")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one positional argument: the projects database")
	}

	st, err := store.Open(flag.Arg(0))
	if err != nil {
		return err
	}
	defer st.Close()

	snaps, err := st.LoadAll()
	if err != nil {
		return err
	}
	for id, snap := range snaps {
		slog.Info("project", "id", id, "name", snap.Name, "files", len(snap.Files), "mainFile", snap.MainFile, "updated", snap.Updated)
	}
	if *projectVar == "" {
		return nil
	}

	doc, found := st.History(*projectVar)
	if !found {
		return fmt.Errorf("no such project: %s", *projectVar)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies())
	}

	if *svgVar == "" {
		return nil
	}
	f, err := os.Create(*svgVar)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()
	if err := viz.RenderHistory(doc, f); err != nil {
		return err
	}
	slog.Info("wrote change graph", "path", *svgVar)
	return nil
}

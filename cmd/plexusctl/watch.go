package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/plexus-engine/plexus"
)

// peerWatcher simulates peer synchronization by watching a directory for
// "*.update" files: whenever one appears, its bytes are applied to doc as a
// remote CRDT update (SPEC_FULL.md §2 C9's peer update files as a
// simulated network), the way the teacher's FileWatcher (cmd/bd/daemon_watcher.go)
// watches a JSONL file and git refs for externally-applied changes.
type peerWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	doc     *plexus.Document
	log     plexus.Logger
}

func newPeerWatcher(dir string, doc *plexus.Document, log plexus.Logger) (*peerWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("plexusctl: create peer sync dir %s: %w", dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("plexusctl: start fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("plexusctl: watch %s: %w", dir, err)
	}
	return &peerWatcher{watcher: w, dir: dir, doc: doc, log: log}, nil
}

// Run blocks, applying every "*.update" file that appears in the watched
// directory until the watcher is closed.
func (pw *peerWatcher) Run() error {
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".update") {
				continue
			}
			pw.apply(event.Name)
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return nil
			}
			pw.log.Log("plexusctl: watcher error: %v", err)
		}
	}
}

func (pw *peerWatcher) apply(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		pw.log.Log("plexusctl: read peer update %s: %v", path, err)
		return
	}
	if err := pw.doc.ApplyRemoteUpdate(data); err != nil {
		pw.log.Log("plexusctl: apply peer update %s: %v", path, err)
		return
	}
	pw.log.Log("plexusctl: applied peer update %s", filepath.Base(path))
}

func (pw *peerWatcher) Close() error {
	return pw.watcher.Close()
}

// publishUpdate writes doc's current state into the peer sync directory so
// another plexusctl process watching the same directory picks it up.
func publishUpdate(dir string, doc *plexus.Document, label string) error {
	data, err := doc.EncodeStateAsUpdate()
	if err != nil {
		return fmt.Errorf("plexusctl: encode state: %w", err)
	}
	path := filepath.Join(dir, label+".update")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("plexusctl: write peer update %s: %w", path, err)
	}
	return nil
}

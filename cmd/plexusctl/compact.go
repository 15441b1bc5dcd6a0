package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/plexus-engine/plexus"
)

// nextCompactionTime parses a natural-language schedule expression (e.g.
// "tomorrow at 3am", "in 6 hours") into the next time a snapshot should be
// taken, the way the teacher's compact.go runs a periodic tombstone/summary
// pass (DESIGN.md C9 "periodic compaction/snapshot command"). The
// teacher's own compact.go takes an explicit --older-than day count rather
// than a natural-language schedule; olebedev/when is adopted from the wider
// example pack to give the CLI a human-friendly "--at" flag instead.
func nextCompactionTime(expr string, now time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("plexusctl: parse schedule %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("plexusctl: could not understand schedule %q", expr)
	}
	return r.Time, nil
}

// runCompactionSnapshot encodes doc's current state and saves it under a
// timestamped name, the nearest this engine gets to the teacher's
// tier-based semantic compaction: spec.md's core never discards reachable
// state, so "compaction" here means a space-efficient checkpoint rather
// than summarizing or deleting entities.
func runCompactionSnapshot(s *store, doc *plexus.Document, at time.Time) error {
	data, err := doc.EncodeStateAsUpdate()
	if err != nil {
		return fmt.Errorf("plexusctl: encode snapshot: %w", err)
	}
	name := fmt.Sprintf("snapshot-%s", at.UTC().Format("20060102T150405Z"))
	return s.Save(name, data)
}

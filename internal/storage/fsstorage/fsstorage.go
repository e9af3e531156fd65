// Package fsstorage implements the default filesystem-backed StorageSink:
// one JSON file per Trade Outcome under outcomes/, rollup blobs written with
// the same atomic-rename discipline, and an optional flat vectors.bin for
// the additive embedding index. This is the adapter the core's tests and a
// bare install run against; internal/storage/pgstorage is the alternate
// Postgres-backed implementation of the same ports.StorageSink contract.
package fsstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quantloop/tradecore/internal/core/model"
)

// Sink is a ports.StorageSink backed by a directory tree:
//
//	<root>/outcomes/{decision_id}.json
//	<root>/{name}.json            (rollups, via SaveRollup/LoadRollup)
//	<root>/snapshots/{timestamp}.json
//	<root>/vectors.bin
type Sink struct {
	root string
}

// New returns a Sink rooted at dir, creating the outcomes/ and snapshots/
// subdirectories if they do not already exist.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Join(dir, "outcomes"), 0o755); err != nil {
		return nil, fmt.Errorf("fsstorage: create outcomes dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "snapshots"), 0o755); err != nil {
		return nil, fmt.Errorf("fsstorage: create snapshots dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "decisions"), 0o755); err != nil {
		return nil, fmt.Errorf("fsstorage: create decisions dir: %w", err)
	}
	return &Sink{root: dir}, nil
}

// Persist implements ports.DecisionSink: one JSON file per Trade Decision
// under decisions/, keyed by its DecisionID (assigned by the caller before
// Persist is called, per the core's "decisions are persisted on creation"
// lifecycle guarantee).
func (s *Sink) Persist(ctx context.Context, decision model.TradeDecision) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("fsstorage: marshal decision: %w", err)
	}
	name := decision.DecisionID + ".json"
	return s.writeAtomic(filepath.Join(s.root, "decisions", name), data)
}

// Append writes outcome to outcomes/{decision_id}.json via a temp-file +
// rename so a concurrent List never observes a partial write.
func (s *Sink) Append(ctx context.Context, outcome model.TradeOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("fsstorage: marshal outcome: %w", err)
	}
	dst := filepath.Join(s.root, "outcomes", outcome.DecisionID+".json")
	return s.writeAtomic(dst, data)
}

// List reads every outcome under outcomes/. Files that fail to parse (a
// torn write that somehow survived a crash before its rename landed) are
// skipped, not fatal to the whole scan.
func (s *Sink) List(ctx context.Context) ([]model.TradeOutcome, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "outcomes"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsstorage: read outcomes dir: %w", err)
	}

	var out []model.TradeOutcome
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, "outcomes", e.Name()))
		if err != nil {
			continue
		}
		var outcome model.TradeOutcome
		if err := json.Unmarshal(data, &outcome); err != nil {
			continue
		}
		out = append(out, outcome)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ExitTimestamp.Before(out[j].ExitTimestamp) })
	return out, nil
}

// AtomicRename exposes the sink's commit primitive directly, for callers
// (tests, alternate bootstrap paths) that already have a temp file staged.
func (s *Sink) AtomicRename(tmp, dst string) error {
	return os.Rename(tmp, dst)
}

// SaveRollup writes data to <root>/{name}.json atomically.
func (s *Sink) SaveRollup(ctx context.Context, name string, data []byte) error {
	dst := filepath.Join(s.root, name+".json")
	return s.writeAtomic(dst, data)
}

// LoadRollup reads <root>/{name}.json. A missing file is reported as
// found=false with no error, matching ports.StorageSink's contract that a
// caller treats "absent" and "unreadable" identically: rebuild.
func (s *Sink) LoadRollup(ctx context.Context, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fsstorage: read rollup %s: %w", name, err)
	}
	return data, true, nil
}

func (s *Sink) writeAtomic(dst string, data []byte) error {
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fsstorage: write temp file: %w", err)
	}
	if err := s.AtomicRename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsstorage: commit rename: %w", err)
	}
	return nil
}

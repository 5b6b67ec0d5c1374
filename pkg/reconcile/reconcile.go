// Package reconcile diffs a freshly imported snapshot against the live asset
// collection and applies a reviewed subset of the resulting change-set
// without touching location, holder, notes or photo state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asset-census-api/pkg/completion"
	"asset-census-api/pkg/inventory"
)

var (
	ErrEntryNotFound  = errors.New("change-set entry not found")
	ErrStaleChangeSet = errors.New("change-set no longer matches the inventory")
)

// Options configures an Engine.
type Options struct {
	// Workers bounds the goroutines classifying incoming records.
	Workers int
	// ChunkSize is the number of records each classification task handles.
	ChunkSize int
	// ScopeRemovals limits removal candidates to assets whose origin area
	// appears in the incoming snapshot.
	ScopeRemovals bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{Workers: 4, ChunkSize: 500, ScopeRemovals: true}
}

// Engine diffs snapshots and applies change-sets.
type Engine struct {
	opts    Options
	tracker *completion.Tracker
	logger  *zap.Logger
}

// NewEngine returns an engine. Zero Workers or ChunkSize fall back to the
// defaults.
func NewEngine(opts Options, tracker *completion.Tracker, logger *zap.Logger) *Engine {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = completion.NewTracker(logger)
	}
	return &Engine{opts: opts, tracker: tracker, logger: logger}
}

// Diff classifies incoming against current. Records missing a key or origin
// area are skipped and counted. When a key repeats, the last occurrence wins.
func (e *Engine) Diff(ctx context.Context, current map[string]*inventory.Asset, incoming []inventory.RawRecord) (*ChangeSet, error) {
	cs := &ChangeSet{Added: []Entry{}, Modified: []Entry{}, Removed: []Entry{}}

	records, order, skipped := e.dedupe(cs, incoming)

	chunks := make([][]string, 0, len(order)/e.opts.ChunkSize+1)
	for start := 0; start < len(order); start += e.opts.ChunkSize {
		end := start + e.opts.ChunkSize
		if end > len(order) {
			end = len(order)
		}
		chunks = append(chunks, order[start:end])
	}

	type classified struct{ added, modified []Entry }
	results := make([]classified, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var p classified
			for _, key := range chunk {
				rec := records[key]
				cur, ok := current[key]
				if !ok {
					p.added = append(p.added, Entry{Kind: KindAdded, Key: key, Selected: true, Record: &rec})
					continue
				}
				if fields := compare(cur, rec); len(fields) > 0 {
					p.modified = append(p.modified, Entry{
						Kind: KindModified, Key: key, Selected: true,
						Record: &rec, Current: cur.Clone(), Fields: fields,
					})
				}
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("diff snapshot: %w", err)
	}
	for _, p := range results {
		cs.Added = append(cs.Added, p.added...)
		cs.Modified = append(cs.Modified, p.modified...)
	}

	scope := e.removalScope(cs, records)
	for key, cur := range current {
		if _, seen := records[key]; seen || skipped[key] {
			continue
		}
		if scope != nil && !scope[Normalize(cur.OriginArea)] {
			continue
		}
		cs.Removed = append(cs.Removed, Entry{Kind: KindRemoved, Key: key, Current: cur.Clone()})
	}

	sortEntries(cs.Added)
	sortEntries(cs.Modified)
	sortEntries(cs.Removed)

	e.logger.Info("snapshot diffed",
		zap.Int("incoming", len(incoming)),
		zap.Int("added", len(cs.Added)),
		zap.Int("modified", len(cs.Modified)),
		zap.Int("removed", len(cs.Removed)),
		zap.Int("malformed", cs.Malformed),
		zap.Int("duplicates", len(cs.Duplicates)))
	return cs, nil
}

// dedupe validates the incoming records and keeps the last occurrence of
// each key. order holds the surviving keys in first-seen order. skipped holds
// keys of malformed records that still carried a key; those assets are not
// offered for removal.
func (e *Engine) dedupe(cs *ChangeSet, incoming []inventory.RawRecord) (map[string]inventory.RawRecord, []string, map[string]bool) {
	records := make(map[string]inventory.RawRecord, len(incoming))
	skipped := make(map[string]bool)
	order := make([]string, 0, len(incoming))
	dup := make(map[string]bool)
	for _, rec := range incoming {
		if err := rec.Validate(); err != nil {
			cs.Malformed++
			cs.MalformedRows = append(cs.MalformedRows, RecordError{
				Key: rec.Key, Sheet: rec.Sheet, Row: rec.Row, Message: err.Error(),
			})
			if k := strings.TrimSpace(rec.Key); k != "" {
				skipped[k] = true
			}
			continue
		}
		rec.Key = strings.TrimSpace(rec.Key)
		rec.OriginArea = strings.TrimSpace(rec.OriginArea)
		if _, ok := records[rec.Key]; ok {
			if !dup[rec.Key] {
				dup[rec.Key] = true
				cs.Duplicates = append(cs.Duplicates, rec.Key)
			}
		} else {
			order = append(order, rec.Key)
		}
		records[rec.Key] = rec
	}
	sort.Strings(cs.Duplicates)
	return records, order, skipped
}

// removalScope returns the normalized origin areas present in the snapshot,
// or nil when removals are not scoped.
func (e *Engine) removalScope(cs *ChangeSet, records map[string]inventory.RawRecord) map[string]bool {
	if !e.opts.ScopeRemovals {
		return nil
	}
	scope := make(map[string]bool)
	names := make(map[string]string)
	for _, rec := range records {
		n := Normalize(rec.OriginArea)
		scope[n] = true
		if _, ok := names[n]; !ok || rec.OriginArea < names[n] {
			names[n] = rec.OriginArea
		}
	}
	for _, name := range names {
		cs.RemovalAreas = append(cs.RemovalAreas, name)
	}
	sort.Strings(cs.RemovalAreas)
	return scope
}

func compare(cur *inventory.Asset, rec inventory.RawRecord) []FieldDiff {
	var out []FieldDiff
	pairs := []struct {
		field    string
		old, new string
	}{
		{FieldDescription, cur.Description, rec.Description},
		{FieldBrand, cur.Brand, rec.Brand},
		{FieldModel, cur.Model, rec.Model},
		{FieldSerial, cur.Serial, rec.Serial},
	}
	for _, p := range pairs {
		if !Equal(p.old, p.new) {
			out = append(out, FieldDiff{Field: p.field, Old: p.old, New: p.new})
		}
	}
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

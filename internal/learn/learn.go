// Package learn implements the optional Schema Learner: it records field
// names discovered in upstream responses — never values — into a durable
// KV store, and serves the $learn-summary introspection endpoint.
package learn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// KV is the narrow contract the Learner needs from its backing store. The
// proxy treats everything behind it as opaque (spec.md §3 "Lifecycles").
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// ErrDisabled is returned by ReadSummary/ReadEntity when learning is
// disabled or no KV backend is configured.
var ErrDisabled = errors.New("learning is disabled")

const (
	entityKeyPrefix = "learn:entity:"
	indexKey        = "learn:index:v1"
	maxSamples      = 5
	rewriteInterval = 24 * time.Hour
	queueDepth      = 256
)

// Record is the LearnedEntityRecord of spec.md §3.
type Record struct {
	Fields      []string `json:"fields"`
	FieldCount  int      `json:"fieldCount"`
	SampleCount int      `json:"sampleCount"`
	LastSeenISO string   `json:"lastSeenIso"`
	LastWriteMs int64    `json:"lastWriteMs"`
}

// index is the LearnIndex of spec.md §3.
type index struct {
	Entities    []string `json:"entities"`
	LastWriteMs int64    `json:"lastWriteMs"`
}

type job struct {
	entity string
	body   []byte
}

// Learner runs the background write path and serves the read path. A
// Learner with enabled=false or kv=nil is a no-op at every entry point.
type Learner struct {
	enabled bool
	kv      KV
	nowFunc func() time.Time

	jobs chan job
}

// New constructs a Learner. Pass enabled=false or kv=nil to get an
// always-no-op Learner — spec.md §4.6 "Enablement".
func New(enabled bool, kv KV) *Learner {
	return &Learner{
		enabled: enabled && kv != nil,
		kv:      kv,
		nowFunc: time.Now,
		jobs:    make(chan job, queueDepth),
	}
}

// Enabled reports whether the learner is active.
func (l *Learner) Enabled() bool {
	return l != nil && l.enabled
}

// Run drains observed-response jobs until ctx is cancelled. It must be
// started once, in the background, by the hosting process. A disabled
// learner returns immediately.
func (l *Learner) Run(ctx context.Context) {
	if !l.Enabled() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-l.jobs:
			l.process(ctx, j)
		}
	}
}

// Observe enqueues a response body for background learning. It never
// blocks the caller: if the queue is full, the observation is dropped —
// spec.md §9 "losing a message is acceptable".
func (l *Learner) Observe(entity string, body []byte) {
	if !l.Enabled() {
		return
	}
	select {
	case l.jobs <- job{entity: entity, body: append([]byte(nil), body...)}:
	default:
		slog.Debug("learner queue full, dropping observation", "entity", entity)
	}
}

// process runs one write-path cycle (spec.md §4.6 steps 1-5). Any error is
// swallowed: a failing learner must never affect the user-visible response,
// and by the time this runs, the response already has been.
func (l *Learner) process(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("learner panic recovered", "entity", j.entity, "recover", r)
		}
	}()

	fields := discoverFields(j.body)
	if fields.len() == 0 {
		return
	}

	lc := strings.ToLower(j.entity)
	key := entityKeyPrefix + lc

	existing, _ := l.readRecord(ctx, key)

	merged := map[string]struct{}{}
	for _, f := range existing.Fields {
		merged[f] = struct{}{}
	}
	newField := false
	for f := range fields.names {
		if _, ok := merged[f]; !ok {
			newField = true
		}
		merged[f] = struct{}{}
	}

	now := l.nowFunc()
	stale := existing.LastWriteMs > 0 && now.Sub(time.UnixMilli(existing.LastWriteMs)) > rewriteInterval

	if !newField && !stale {
		return
	}

	sortedFields := make([]string, 0, len(merged))
	for f := range merged {
		sortedFields = append(sortedFields, f)
	}
	sort.Strings(sortedFields)

	rec := Record{
		Fields:      sortedFields,
		FieldCount:  len(sortedFields),
		SampleCount: fields.sampleCount,
		LastSeenISO: now.UTC().Format(time.RFC3339),
		LastWriteMs: now.UnixMilli(),
	}
	if err := l.writeRecord(ctx, key, rec); err != nil {
		slog.Debug("learner write failed", "entity", j.entity, "error", err)
		return
	}

	l.updateIndex(ctx, lc, now)
}

// discoveredFields bundles the set of top-level field names found and how
// many rows were sampled to find them.
type discoveredFields struct {
	names       map[string]struct{}
	sampleCount int
}

func (d discoveredFields) len() int { return len(d.names) }

// discoverFields samples the first min(len(value), 5) rows of body and
// collects the union of top-level property names, excluding "@odata.*"
// keys. Uses gjson for the shallow, known-shape extraction this step
// needs (unlike the Redactor's unbounded structural walk).
func discoverFields(body []byte) discoveredFields {
	value := gjson.GetBytes(body, "value")
	if !value.IsArray() {
		return discoveredFields{}
	}
	rows := value.Array()
	if len(rows) == 0 {
		return discoveredFields{}
	}

	n := len(rows)
	if n > maxSamples {
		n = maxSamples
	}

	names := map[string]struct{}{}
	for _, row := range rows[:n] {
		if !row.IsObject() {
			continue
		}
		row.ForEach(func(key, _ gjson.Result) bool {
			k := key.String()
			if !strings.HasPrefix(k, "@odata.") {
				names[k] = struct{}{}
			}
			return true
		})
	}
	return discoveredFields{names: names, sampleCount: n}
}

func (l *Learner) readRecord(ctx context.Context, key string) (Record, bool) {
	data, found, err := l.kv.Get(ctx, key)
	if err != nil || !found {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

func (l *Learner) writeRecord(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.kv.Put(ctx, key, data)
}

func (l *Learner) updateIndex(ctx context.Context, lcEntity string, now time.Time) {
	idx := l.readIndex(ctx)
	for _, e := range idx.Entities {
		if e == lcEntity {
			return
		}
	}
	idx.Entities = append(idx.Entities, lcEntity)
	sort.Strings(idx.Entities)
	idx.LastWriteMs = now.UnixMilli()

	data, err := json.Marshal(idx)
	if err != nil {
		return
	}
	if err := l.kv.Put(ctx, indexKey, data); err != nil {
		slog.Debug("learner index write failed", "error", err)
	}
}

func (l *Learner) readIndex(ctx context.Context) index {
	data, found, err := l.kv.Get(ctx, indexKey)
	if err != nil || !found {
		return index{}
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return index{}
	}
	return idx
}

// Summary is the $learn-summary response body shape (spec.md §4.6 read path).
type Summary struct {
	LearningEnabled bool     `json:"learningEnabled"`
	EntityCount     int      `json:"entityCount"`
	Entities        []string `json:"entities"`
	Records         []Record `json:"records"`
}

// ReadEntity serves $learn-summary?entity=<x>: the record for one entity,
// or nil if never observed.
func (l *Learner) ReadEntity(ctx context.Context, entity string) (*Record, error) {
	if !l.Enabled() {
		return nil, ErrDisabled
	}
	rec, ok := l.readRecord(ctx, entityKeyPrefix+strings.ToLower(entity))
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ReadSummary serves $learn-summary with no entity filter: the full index
// plus every referenced record, fetched in parallel.
func (l *Learner) ReadSummary(ctx context.Context) (*Summary, error) {
	if !l.Enabled() {
		return nil, ErrDisabled
	}

	idx := l.readIndex(ctx)
	records := make([]*Record, len(idx.Entities))

	g, gctx := errgroup.WithContext(ctx)
	for i, entity := range idx.Entities {
		i, entity := i, entity
		g.Go(func() error {
			rec, ok := l.readRecord(gctx, entityKeyPrefix+entity)
			if ok {
				records[i] = &rec
			}
			return nil
		})
	}
	_ = g.Wait() // readRecord never returns an error worth aborting on

	out := &Summary{
		LearningEnabled: true,
		EntityCount:     len(idx.Entities),
		Entities:        idx.Entities,
	}
	for _, rec := range records {
		if rec != nil {
			out.Records = append(out.Records, *rec)
		}
	}
	return out, nil
}

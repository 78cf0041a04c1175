package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

type upsertCall struct {
	op         string // "create" or "update"
	existingID string
	turns      []store.Turn
}

// memRecords is an in-memory RecordStore that logs every write.
type memRecords struct {
	mu        sync.Mutex
	records   map[string]*store.Record
	calls     []upsertCall
	next      int
	failWrite error
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[string]*store.Record)}
}

func (m *memRecords) CreateRecord(ctx context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, upsertCall{op: "create", turns: store.CloneTurns(rec.Turns)})
	if m.failWrite != nil {
		return m.failWrite
	}
	m.next++
	rec.ID = fmt.Sprintf("rec-%d", m.next)
	cp := *rec
	cp.Turns = store.CloneTurns(rec.Turns)
	m.records[rec.ID] = &cp
	return nil
}

func (m *memRecords) UpdateRecord(ctx context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, upsertCall{op: "update", existingID: rec.ID, turns: store.CloneTurns(rec.Turns)})
	if m.failWrite != nil {
		return m.failWrite
	}
	existing, ok := m.records[rec.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.OwnerID != rec.OwnerID {
		return store.ErrForbidden
	}
	existing.Title = rec.Title
	existing.Turns = store.CloneTurns(rec.Turns)
	existing.Metadata = rec.Metadata
	existing.ThreadID = rec.ThreadID
	return nil
}

func (m *memRecords) get(id, ownerID string) (*store.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}
	return rec, nil
}

func (m *memRecords) GetRecord(ctx context.Context, id, ownerID string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.get(id, ownerID)
	if err != nil {
		return nil, err
	}
	cp := *rec
	cp.Turns = store.CloneTurns(rec.Turns)
	return &cp, nil
}

func (m *memRecords) RenameRecord(ctx context.Context, id, ownerID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.get(id, ownerID)
	if err != nil {
		return err
	}
	rec.Title = title
	return nil
}

func (m *memRecords) ToggleBookmark(ctx context.Context, id, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.get(id, ownerID)
	if err != nil {
		return false, err
	}
	rec.Bookmarked = !rec.Bookmarked
	return rec.Bookmarked, nil
}

func (m *memRecords) DeleteRecord(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(id, ownerID); err != nil {
		return err
	}
	delete(m.records, id)
	return nil
}

func (m *memRecords) snapshotCalls() []upsertCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upsertCall(nil), m.calls...)
}

func (m *memRecords) record(id string) *store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	cp.Turns = store.CloneTurns(rec.Turns)
	return &cp
}

type recordingBridge struct {
	mu  sync.Mutex
	ids []string
}

func (b *recordingBridge) Announce(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, id)
}

func (b *recordingBridge) announced() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ids...)
}

// scriptedStreamer delivers fixed chunks and then returns err.
type scriptedStreamer struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	requests []CompletionRequest
}

func (f *scriptedStreamer) Stream(ctx context.Context, req CompletionRequest, onChunk func(string)) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	acc := ""
	for _, c := range f.chunks {
		acc += c
		onChunk(acc)
	}
	if f.err != nil {
		return acc, f.err
	}
	return acc, nil
}

func (f *scriptedStreamer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// gatedStreamer sends its first chunks, signals started, then waits for
// release before sending the rest. It ignores ctx after release, like a
// connection that still delivers bytes during teardown.
type gatedStreamer struct {
	before  []string
	after   []string
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
	once    sync.Once
}

func newGatedStreamer(before, after []string) *gatedStreamer {
	return &gatedStreamer{before: before, after: after, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStreamer) Stream(ctx context.Context, req CompletionRequest, onChunk func(string)) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	acc := ""
	for _, c := range g.before {
		acc += c
		onChunk(acc)
	}
	g.once.Do(func() { close(g.started) })
	<-g.release
	for _, c := range g.after {
		acc += c
		onChunk(acc)
	}
	if err := ctx.Err(); err != nil {
		return acc, err
	}
	return acc, nil
}

var errDropped = errors.New("connection reset by peer")

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Searchable-no/searchableapp-sub001/internal/store"
)

func newTestSession(streamer Streamer, records RecordStore, bridge Announcer) *Session {
	opts := Options{Transport: streamer, Bridge: bridge, OwnerID: "alice", Model: "test-model"}
	if records != nil {
		opts.Records = records
	}
	return NewSession(opts)
}

func waitStarted(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("stream never started")
	}
}

func TestSession_InitializeRoundTrip(t *testing.T) {
	s := newTestSession(&scriptedStreamer{}, nil, nil)
	turns := []store.Turn{
		{Role: store.RoleUser, Content: "hi"},
		{Role: store.RoleAssistant, Content: "hello"},
	}

	s.Initialize("abc", turns, "Greeting", "alice", true)
	st := s.Snapshot()

	assert.Equal(t, "abc", st.RecordID)
	assert.Equal(t, turns, st.Turns)
	assert.Equal(t, "Greeting", st.Title)
	assert.Equal(t, "alice", st.OwnerID)
	assert.True(t, st.Bookmarked)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.Error)

	st.Turns[0].Content = "mutated"
	assert.Equal(t, "hi", s.Snapshot().Turns[0].Content, "snapshots are copies")
}

func TestSession_FirstSubmitAllocatesRecordOnce(t *testing.T) {
	records := newMemRecords()
	bridge := &recordingBridge{}
	streamer := &scriptedStreamer{chunks: []string{"Hi ", "there"}}
	s := newTestSession(streamer, records, bridge)

	s.Submit(context.Background(), "Hello")
	s.Wait()

	st := s.Snapshot()
	require.Equal(t, "rec-1", st.RecordID)
	assert.Equal(t, "Hello...", st.Title)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, []string{"rec-1"}, bridge.announced())

	calls := records.snapshotCalls()
	creates := 0
	for _, c := range calls {
		if c.op == "create" {
			creates++
			continue
		}
		assert.Equal(t, "rec-1", c.existingID)
	}
	assert.Equal(t, 1, creates)
	assert.Equal(t, "create", calls[0].op, "the record is created before streaming")
	assert.Equal(t, []store.Turn{{Role: store.RoleUser, Content: "Hello"}}, calls[0].turns)

	rec := records.record("rec-1")
	require.NotNil(t, rec)
	assert.Equal(t, []store.Turn{
		{Role: store.RoleUser, Content: "Hello"},
		{Role: store.RoleAssistant, Content: "Hi there"},
	}, rec.Turns)
}

func TestSession_ExistingRecordIsOnlyUpdated(t *testing.T) {
	records := newMemRecords()
	require.NoError(t, records.CreateRecord(context.Background(), &store.Record{OwnerID: "alice", Title: "Existing"}))
	bridge := &recordingBridge{}
	s := newTestSession(&scriptedStreamer{chunks: []string{"ok"}}, records, bridge)
	s.Initialize("rec-1", nil, "Existing", "alice", false)

	s.Submit(context.Background(), "Second message")
	s.Submit(context.Background(), "Second message")
	s.Wait()

	calls := records.snapshotCalls()[1:] // skip the setup create
	require.NotEmpty(t, calls)
	for _, c := range calls {
		assert.Equal(t, "update", c.op)
		assert.Equal(t, "rec-1", c.existingID)
	}
	assert.Empty(t, bridge.announced())
	assert.Equal(t, "rec-1", s.Snapshot().RecordID)

	rec := records.record("rec-1")
	require.Len(t, rec.Turns, 4)
	assert.Equal(t, "Existing", rec.Title, "an existing title is never re-derived")
}

func TestSession_ChunksAppliedInOrder(t *testing.T) {
	s := newTestSession(&scriptedStreamer{chunks: []string{"Hel", "lo wor", "ld"}}, nil, nil)

	var mu sync.Mutex
	var seen []string
	unsubscribe := s.Subscribe(func(st State) {
		if text, ok := st.LastAssistant(); ok {
			mu.Lock()
			if len(seen) == 0 || seen[len(seen)-1] != text {
				seen = append(seen, text)
			}
			mu.Unlock()
		}
	})
	defer unsubscribe()

	s.Submit(context.Background(), "greet me")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Hel", "Hello wor", "Hello world"}, seen)
}

func TestSession_SubmitIgnoredWhileLoading(t *testing.T) {
	streamer := newGatedStreamer([]string{"working"}, nil)
	s := newTestSession(streamer, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Submit(context.Background(), "first")
	}()
	waitStarted(t, streamer.started)

	assert.Equal(t, StatusLoading, s.Snapshot().Status)
	s.Submit(context.Background(), "second")

	close(streamer.release)
	<-done

	st := s.Snapshot()
	require.Len(t, st.Turns, 2)
	assert.Equal(t, "first", st.Turns[0].Content)
	assert.Equal(t, store.RoleAssistant, st.Turns[1].Role)
	assert.Equal(t, 1, streamer.calls)
}

func TestSession_ConcurrentSubmitStartsOneStream(t *testing.T) {
	streamer := newGatedStreamer(nil, nil)
	s := newTestSession(streamer, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit(context.Background(), "race")
		}()
	}
	waitStarted(t, streamer.started)
	time.Sleep(20 * time.Millisecond)
	close(streamer.release)
	wg.Wait()

	// Later goroutines may run after the first turn finished; each of those
	// starts its own turn, but never while another is loading.
	st := s.Snapshot()
	users := 0
	for _, turn := range st.Turns {
		if turn.Role == store.RoleUser {
			users++
		}
	}
	assert.Equal(t, streamer.calls, users)
}

func TestSession_BlankSubmitIsNoop(t *testing.T) {
	streamer := &scriptedStreamer{}
	s := newTestSession(streamer, newMemRecords(), nil)

	s.Submit(context.Background(), "   \n\t")

	assert.Empty(t, s.Snapshot().Turns)
	assert.Zero(t, streamer.calls())
}

func TestSession_CancelKeepsPartialText(t *testing.T) {
	records := newMemRecords()
	streamer := newGatedStreamer([]string{"Hel", "lo"}, []string{" world"})
	s := newTestSession(streamer, records, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Submit(context.Background(), "say hello")
	}()
	waitStarted(t, streamer.started)

	s.Cancel()
	st := s.Snapshot()
	assert.Equal(t, StatusIdle, st.Status)
	text, ok := st.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "Hello", text)

	close(streamer.release) // delivers " world" after the cancel
	<-done
	s.Wait()

	st = s.Snapshot()
	text, _ = st.LastAssistant()
	assert.Equal(t, "Hello", text)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.Error)

	rec := records.record(st.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, "Hello", rec.Turns[len(rec.Turns)-1].Content, "the partial reply is saved")
}

func TestSession_CancelWithoutStreamIsNoop(t *testing.T) {
	s := newTestSession(&scriptedStreamer{}, nil, nil)
	s.Cancel()
	assert.Equal(t, StatusIdle, s.Snapshot().Status)
}

func TestSession_TransportFailureKeepsPartial(t *testing.T) {
	records := newMemRecords()
	s := newTestSession(&scriptedStreamer{chunks: []string{"partial "}, err: errDropped}, records, nil)

	s.Submit(context.Background(), "explain")
	s.Wait()

	st := s.Snapshot()
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.Error, "connection reset")
	require.Len(t, st.Turns, 2)
	assert.Equal(t, "partial ", st.Turns[1].Content)
}

func TestSession_CompletionErrorMessageSurfaces(t *testing.T) {
	s := newTestSession(&scriptedStreamer{err: &CompletionError{StatusCode: 400, Message: "model not available"}}, nil, nil)

	s.Submit(context.Background(), "hi")

	st := s.Snapshot()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "model not available", st.Error)
	assert.Len(t, st.Turns, 1, "no assistant turn without streamed text")
}

func TestSession_RetryAfterError(t *testing.T) {
	streamer := &scriptedStreamer{err: errDropped}
	s := newTestSession(streamer, nil, nil)

	s.Submit(context.Background(), "hi")
	require.Equal(t, StatusError, s.Snapshot().Status)

	streamer.err = nil
	streamer.chunks = []string{"hello"}
	s.Submit(context.Background(), "hi again")

	st := s.Snapshot()
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.Error)
	text, _ := st.LastAssistant()
	assert.Equal(t, "hello", text)
}

func TestSession_StreamTimeout(t *testing.T) {
	streamer := newGatedStreamer(nil, nil)
	s := NewSession(Options{Transport: streamer, OwnerID: "alice", StreamTimeout: 20 * time.Millisecond})

	go func() {
		<-streamer.started
		time.Sleep(60 * time.Millisecond)
		close(streamer.release)
	}()
	s.Submit(context.Background(), "slow")

	st := s.Snapshot()
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.Error, "too long")
}

func TestSession_BackgroundSaveCarriesUserTurn(t *testing.T) {
	records := newMemRecords()
	require.NoError(t, records.CreateRecord(context.Background(), &store.Record{OwnerID: "alice", Title: "Existing"}))
	streamer := newGatedStreamer(nil, []string{"ok"})
	s := newTestSession(streamer, records, nil)
	s.Initialize("rec-1", nil, "Existing", "alice", false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Submit(context.Background(), "question")
	}()
	waitStarted(t, streamer.started)

	// The reply is held back, so only the save of the user turn can land.
	require.Eventually(t, func() bool { return len(records.snapshotCalls()) >= 2 }, time.Second, 5*time.Millisecond)
	bg := records.snapshotCalls()[1]
	assert.Equal(t, "update", bg.op)
	assert.Equal(t, "rec-1", bg.existingID)
	assert.Equal(t, []store.Turn{{Role: store.RoleUser, Content: "question"}}, bg.turns)

	close(streamer.release)
	<-done
	s.Wait()

	calls := records.snapshotCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, []store.Turn{
		{Role: store.RoleUser, Content: "question"},
		{Role: store.RoleAssistant, Content: "ok"},
	}, calls[2].turns)
	assert.Len(t, records.record("rec-1").Turns, 2)
}

func TestSession_StreamDeadlineStartsAfterCreate(t *testing.T) {
	records := &slowRecords{memRecords: newMemRecords(), delay: 80 * time.Millisecond}
	s := NewSession(Options{
		Transport:      deadlineStreamer("on time"),
		Records:        records,
		OwnerID:        "alice",
		StreamTimeout:  40 * time.Millisecond,
		PersistTimeout: time.Second,
	})

	s.Submit(context.Background(), "hello")
	s.Wait()

	st := s.Snapshot()
	assert.Equal(t, StatusIdle, st.Status, st.Error)
	assert.Equal(t, "rec-1", st.RecordID)
	text, _ := st.LastAssistant()
	assert.Equal(t, "on time", text)
}

// deadlineStreamer fails like a real transport when its context is already done.
type deadlineStreamer string

func (d deadlineStreamer) Stream(ctx context.Context, req CompletionRequest, onChunk func(string)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	onChunk(string(d))
	return string(d), nil
}

func TestSession_GuestModeNeverPersists(t *testing.T) {
	records := newMemRecords()
	bridge := &recordingBridge{}
	s := NewSession(Options{Transport: &scriptedStreamer{chunks: []string{"ok"}}, Records: records, Bridge: bridge})

	s.Submit(context.Background(), "hello", store.Attachment{Name: "a.txt", Text: "x"})
	s.Wait()

	st := s.Snapshot()
	assert.Len(t, st.Turns, 2)
	assert.Equal(t, "a.txt", st.Turns[0].Attachments[0].Name)
	assert.Empty(t, st.RecordID)
	assert.Empty(t, records.snapshotCalls())
	assert.Empty(t, bridge.announced())
}

func TestSession_CreateFailureRetriedOnNextTurn(t *testing.T) {
	records := newMemRecords()
	records.failWrite = errDropped
	bridge := &recordingBridge{}
	s := newTestSession(&scriptedStreamer{chunks: []string{"ok"}}, records, bridge)

	s.Submit(context.Background(), "first")
	s.Wait()
	st := s.Snapshot()
	assert.Empty(t, st.RecordID)
	assert.Equal(t, StatusIdle, st.Status, "persistence failures are not user-visible")
	assert.Len(t, st.Turns, 2)

	records.mu.Lock()
	records.failWrite = nil
	records.mu.Unlock()

	s.Submit(context.Background(), "second")
	s.Wait()
	assert.Equal(t, "rec-1", s.Snapshot().RecordID)
	assert.Equal(t, []string{"rec-1"}, bridge.announced())
	assert.Len(t, records.record("rec-1").Turns, 4)
}

func TestSession_MetadataOperationsNeedRecord(t *testing.T) {
	s := newTestSession(&scriptedStreamer{}, newMemRecords(), nil)
	ctx := context.Background()

	assert.False(t, s.Rename(ctx, "title"))
	assert.False(t, s.ToggleBookmark(ctx))
	assert.False(t, s.Delete(ctx))
}

func TestSession_RenameBookmarkDelete(t *testing.T) {
	records := newMemRecords()
	s := newTestSession(&scriptedStreamer{chunks: []string{"ok"}}, records, nil)
	ctx := context.Background()

	s.Submit(ctx, "plan the offsite agenda for May")
	s.Wait()
	id := s.Snapshot().RecordID
	require.NotEmpty(t, id)
	assert.Equal(t, "plan the offsite agenda for...", s.Snapshot().Title)

	require.True(t, s.Rename(ctx, "Offsite"))
	assert.Equal(t, "Offsite", s.Snapshot().Title)
	assert.Equal(t, "Offsite", records.record(id).Title)
	assert.False(t, s.Rename(ctx, "  "))

	require.True(t, s.ToggleBookmark(ctx))
	assert.True(t, s.Snapshot().Bookmarked)
	require.True(t, s.ToggleBookmark(ctx))
	assert.False(t, s.Snapshot().Bookmarked)

	require.True(t, s.Delete(ctx))
	st := s.Snapshot()
	assert.Empty(t, st.RecordID)
	assert.Empty(t, st.Turns)
	assert.Nil(t, records.record(id))
}

func TestSession_LoadOwnership(t *testing.T) {
	records := newMemRecords()
	ctx := context.Background()
	require.NoError(t, records.CreateRecord(ctx, &store.Record{
		OwnerID: "bob",
		Title:   "Bob's chat",
		Turns:   []store.Turn{{Role: store.RoleUser, Content: "secret"}},
	}))
	require.NoError(t, records.CreateRecord(ctx, &store.Record{
		OwnerID:    "alice",
		Title:      "Alice's chat",
		Bookmarked: true,
		Turns:      []store.Turn{{Role: store.RoleUser, Content: "mine"}},
	}))
	s := newTestSession(&scriptedStreamer{}, records, nil)

	assert.ErrorIs(t, s.Load(ctx, "rec-1"), store.ErrForbidden)
	assert.ErrorIs(t, s.Load(ctx, "rec-9"), store.ErrNotFound)
	assert.Empty(t, s.Snapshot().Turns)

	require.NoError(t, s.Load(ctx, "rec-2"))
	st := s.Snapshot()
	assert.Equal(t, "rec-2", st.RecordID)
	assert.Equal(t, "Alice's chat", st.Title)
	assert.True(t, st.Bookmarked)
	assert.Equal(t, "mine", st.Turns[0].Content)
}

func TestSession_LoadWithoutStore(t *testing.T) {
	s := NewSession(Options{Transport: &scriptedStreamer{}})
	assert.ErrorIs(t, s.Load(context.Background(), "x"), ErrNoRecordStore)
}

func TestSession_ResetDetachesRunningTurn(t *testing.T) {
	records := newMemRecords()
	bridge := &recordingBridge{}
	streamer := newGatedStreamer([]string{"par"}, []string{"tial"})
	s := newTestSession(streamer, records, bridge)
	s.Initialize("", nil, "", "alice", false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Submit(context.Background(), "old question")
	}()
	waitStarted(t, streamer.started)

	s.Reset()
	close(streamer.release)
	<-done
	s.Wait()

	st := s.Snapshot()
	assert.Empty(t, st.Turns)
	assert.Empty(t, st.RecordID)
	assert.Equal(t, StatusIdle, st.Status)

	rec := records.record("rec-1")
	require.NotNil(t, rec)
	assert.Len(t, rec.Turns, 1, "the detached reply is not saved")
	assert.Equal(t, []string{"rec-1"}, bridge.announced())
}

func TestSession_PersistTimeoutIsNotFatal(t *testing.T) {
	records := &slowRecords{memRecords: newMemRecords(), delay: 100 * time.Millisecond}
	s := NewSession(Options{
		Transport:      &scriptedStreamer{chunks: []string{"ok"}},
		Records:        records,
		OwnerID:        "alice",
		PersistTimeout: 10 * time.Millisecond,
	})

	s.Submit(context.Background(), "hello")
	s.Wait()

	st := s.Snapshot()
	assert.Empty(t, st.RecordID)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Len(t, st.Turns, 2)
}

type slowRecords struct {
	*memRecords
	delay time.Duration
}

func (s *slowRecords) CreateRecord(ctx context.Context, rec *store.Record) error {
	select {
	case <-time.After(s.delay):
		return s.memRecords.CreateRecord(ctx, rec)
	case <-ctx.Done():
		return ctx.Err()
	}
}

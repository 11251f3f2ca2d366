package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-link/backend/internal/storage"
)

// flakyDocs is an in-memory DocumentStore whose writes can be made to fail.
type flakyDocs struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  bool
	saves int
}

func newFlakyDocs() *flakyDocs {
	return &flakyDocs{data: make(map[string][]byte)}
}

func (d *flakyDocs) Load(_ context.Context, name string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.data[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (d *flakyDocs) Save(_ context.Context, name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("disk full")
	}
	d.saves++
	d.data[name] = append([]byte(nil), data...)
	return nil
}

func (d *flakyDocs) Size(_ context.Context, name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data[name])), nil
}

func (d *flakyDocs) Close() error { return nil }

func (d *flakyDocs) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func openStore(t *testing.T, docs storage.DocumentStore, limits LimitsFunc) *Store {
	t.Helper()
	s, err := Open(context.Background(), docs, limits, WithClock(fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, err)
	return s
}

func contents(turns []chat.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}

func TestAppendTrimsOldestBeyondCapacity(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newFlakyDocs(), FixedLimits(3, 10))

	s.Append(ctx, chat.RoleUser, "a")
	s.Append(ctx, chat.RoleAssistant, "b")
	s.Append(ctx, chat.RoleUser, "c")
	s.Append(ctx, chat.RoleAssistant, "d")

	window := s.Window(10)
	require.Equal(t, []string{"b", "c", "d"}, contents(window))
	require.Equal(t, chat.RoleAssistant, window[0].Role)
}

func TestAppendKeepsTailOfLogicalSequence(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		capacity := 1 + rng.Intn(8)
		s := openStore(t, newFlakyDocs(), FixedLimits(capacity, 100))

		var logical []string
		n := rng.Intn(30)
		for i := 0; i < n; i++ {
			content := fmt.Sprintf("m%d", i)
			logical = append(logical, content)
			s.Append(ctx, chat.RoleUser, content)
			require.LessOrEqual(t, s.Len(), capacity)
		}

		want := logical
		if len(want) > capacity {
			want = want[len(want)-capacity:]
		}
		require.Equal(t, len(want), s.Len())
		if len(want) > 0 {
			require.Equal(t, want, contents(s.Window(100)))
		}
	}
}

func TestCapacityFollowsLiveSettings(t *testing.T) {
	ctx := context.Background()
	capacity := 5
	s := openStore(t, newFlakyDocs(), func() (int, int) { return capacity, 2 })

	for i := 0; i < 5; i++ {
		s.Append(ctx, chat.RoleUser, fmt.Sprint(i))
	}
	require.Equal(t, []string{"3", "4"}, contents(s.Window(0)))

	capacity = 2
	s.Append(ctx, chat.RoleUser, "5")
	require.Equal(t, []string{"4", "5"}, contents(s.Window(10)))
}

func TestContextWindowStripsMetadata(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newFlakyDocs(), FixedLimits(10, 10))
	s.Append(ctx, chat.RoleUser, "hi")
	s.Append(ctx, chat.RoleAssistant, "hello")

	require.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hello"},
	}, s.ContextWindow(5))
}

func TestSearchMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newFlakyDocs(), FixedLimits(10, 10))
	s.Append(ctx, chat.RoleUser, "Ale please")
	s.Append(ctx, chat.RoleAssistant, "wine")
	s.Append(ctx, chat.RoleUser, "more ALE")
	s.Append(ctx, chat.RoleUser, "pale ale")

	require.Equal(t, []string{"pale ale", "more ALE", "Ale please"}, contents(s.Search("ale", 10)))
	require.Equal(t, []string{"pale ale", "more ALE"}, contents(s.Search("ALE", 2)))
	require.Empty(t, s.Search("  ", 10))
}

func TestClearAndReset(t *testing.T) {
	ctx := context.Background()
	docs := newFlakyDocs()
	s := openStore(t, docs, FixedLimits(10, 10))
	s.Append(ctx, chat.RoleUser, "a")
	s.Append(ctx, chat.RoleAssistant, "b")

	require.Zero(t, s.Clear(ctx, "other"))
	require.Equal(t, 2, s.Clear(ctx, chat.GlobalConversation))
	require.Zero(t, s.Len())

	s.Append(ctx, chat.RoleUser, "c")
	s.Reset(ctx)
	require.Zero(t, s.Len())

	data, err := docs.Load(ctx, DocumentName)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(data))
}

func TestPersistenceFailureKeepsStateAndResyncs(t *testing.T) {
	ctx := context.Background()
	docs := newFlakyDocs()
	s := openStore(t, docs, FixedLimits(10, 10))

	docs.setFail(true)
	turn := s.Append(ctx, chat.RoleUser, "kept")
	require.Equal(t, "kept", turn.Content)
	require.Equal(t, 1, s.Len())
	require.False(t, s.InSync())

	docs.setFail(false)
	require.NoError(t, s.Flush(ctx))
	require.True(t, s.InSync())

	reopened := openStore(t, docs, FixedLimits(10, 10))
	require.Equal(t, []string{"kept"}, contents(reopened.Window(10)))
}

func TestOpenAcceptsBothLayouts(t *testing.T) {
	ctx := context.Background()

	bare := newFlakyDocs()
	require.NoError(t, bare.Save(ctx, DocumentName, []byte(`[{"sessionId":"global_shared_memory","role":"user","content":"x","timestamp":1,"date":"1970-01-01T00:00:00.001Z"}]`)))
	s := openStore(t, bare, FixedLimits(10, 10))
	require.Equal(t, []string{"x"}, contents(s.Window(10)))

	wrapped := newFlakyDocs()
	require.NoError(t, wrapped.Save(ctx, DocumentName, []byte(`{"messages":[{"sessionId":"g","role":"assistant","content":"y","timestamp":2}],"totalMessages":1}`)))
	s = openStore(t, wrapped, FixedLimits(10, 10))
	require.Equal(t, []string{"y"}, contents(s.Window(10)))

	broken := newFlakyDocs()
	require.NoError(t, broken.Save(ctx, DocumentName, []byte(`{not json`)))
	_, err := Open(ctx, broken, FixedLimits(10, 10))
	require.Error(t, err)
}

func TestOpenSkipsTurnsWithUnknownRoles(t *testing.T) {
	ctx := context.Background()
	docs := newFlakyDocs()
	require.NoError(t, docs.Save(ctx, DocumentName, []byte(`[
		{"sessionId":"g","role":"system","content":"s","timestamp":1},
		{"sessionId":"g","role":"user","content":"u","timestamp":2},
		{"sessionId":"g","role":"tool","content":"t","timestamp":3},
		{"sessionId":"g","role":"assistant","content":"a","timestamp":4}
	]`)))

	s := openStore(t, docs, FixedLimits(10, 10))
	require.Equal(t, []string{"u", "a"}, contents(s.Window(10)))
}

func TestOpenTrimsOversizedSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := newFlakyDocs()
	seed := openStore(t, docs, FixedLimits(10, 10))
	for i := 0; i < 5; i++ {
		seed.Append(ctx, chat.RoleUser, fmt.Sprint(i))
	}

	s := openStore(t, docs, FixedLimits(2, 10))
	require.Equal(t, []string{"3", "4"}, contents(s.Window(10)))
}

func TestHistoryFiltersByTag(t *testing.T) {
	ctx := context.Background()
	docs := newFlakyDocs()
	require.NoError(t, docs.Save(ctx, DocumentName, []byte(`[
		{"sessionId":"private_1","role":"user","content":"a","timestamp":1000},
		{"sessionId":"group_2_3","role":"user","content":"b","timestamp":2000},
		{"sessionId":"private_1","role":"assistant","content":"c","timestamp":3000}
	]`)))
	s := openStore(t, docs, FixedLimits(10, 10))

	require.Equal(t, []string{"a", "c"}, contents(s.History("private_1", 10)))
	require.Equal(t, []string{"c"}, contents(s.History("private_1", 1)))
	require.Equal(t, []string{"a", "b", "c"}, contents(s.History("global", 10)))
}

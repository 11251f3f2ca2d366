package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
)

const legacyDoc = `[
	{"sessionId":"private_1","role":"user","content":"a","timestamp":1000,"date":"1970-01-01T00:00:01.000Z"},
	{"sessionId":"group_2_3","role":"user","content":"b","timestamp":2000,"date":"1970-01-01T00:00:02.000Z"},
	{"sessionId":"group_9_3","role":"user","content":"c","timestamp":2500,"date":"1970-01-01T00:00:02.500Z"},
	{"sessionId":"private_1","role":"assistant","content":"d","timestamp":3000,"date":"1970-01-01T00:00:03.000Z"}
]`

func TestStatsAndConversations(t *testing.T) {
	ctx := context.Background()
	docs := newFlakyDocs()
	require.NoError(t, docs.Save(ctx, DocumentName, []byte(legacyDoc)))
	s := openStore(t, docs, FixedLimits(10, 10))

	stats := s.Stats(ctx)
	require.Equal(t, 4, stats.TotalMessages)
	require.Equal(t, 3, stats.TotalSessions)
	require.Equal(t, 2, stats.UniqueUsers)
	require.Equal(t, "1970-01-01T00:00:01.000Z", stats.OldestMessage)
	require.Equal(t, "1970-01-01T00:00:03.000Z", stats.NewestMessage)
	require.True(t, stats.InSync)

	convs := s.Conversations()
	require.Len(t, convs, 3)
	require.Equal(t, "private_1", convs[0].ID)
	require.Equal(t, 2, convs[0].MessageCount)
	require.EqualValues(t, 1000, convs[0].CreatedAtMs)
	require.EqualValues(t, 3000, convs[0].LastActiveAtMs)
	require.Equal(t, "group_9_3", convs[1].ID)
}

func TestCleanupIdleRemovesStaleConversations(t *testing.T) {
	ctx := context.Background()
	docs := newFlakyDocs()
	require.NoError(t, docs.Save(ctx, DocumentName, []byte(legacyDoc)))

	now := time.UnixMilli(3000 + 500)
	s, err := Open(ctx, docs, FixedLimits(10, 10), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	removed := s.CleanupIdle(ctx, 900*time.Millisecond)
	require.Equal(t, []string{"group_2_3", "group_9_3"}, removed)
	require.Equal(t, 2, s.Len())

	require.Nil(t, s.CleanupIdle(ctx, time.Hour))
}

func TestExportIncludesTurnsAndStats(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newFlakyDocs(), FixedLimits(10, 10))
	s.Append(ctx, chat.RoleUser, "hello")

	exp := s.Export(ctx)
	require.Len(t, exp.Messages, 1)
	require.Equal(t, 1, exp.Stats.TotalMessages)
	require.NotEmpty(t, exp.ExportDate)
	require.Equal(t, chat.GlobalConversation, exp.Messages[0].ConversationTag)
}

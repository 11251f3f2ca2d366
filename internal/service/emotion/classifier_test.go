package emotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	analysis "github.com/zhouzirui/tavern-link/backend/internal/analysis/emotion"
)

type stubClient struct {
	reply string
	err   error
	seen  []*schema.Message
}

func (s *stubClient) Chat(_ context.Context, messages []*schema.Message) (string, error) {
	s.seen = messages
	return s.reply, s.err
}

func TestClassifyParsesModelAnswer(t *testing.T) {
	client := &stubClient{reply: "好的：\n{\"emotion\":\"Tender\",\"scale\":4.5}"}
	c := NewClassifier(client, time.Second)

	d := c.Classify(context.Background(), "晚安，做个好梦")
	require.Equal(t, analysis.Tender, d.Emotion)
	require.InDelta(t, 4.5, d.Scale, 0.001)
	require.Equal(t, 9, d.Score)

	require.Len(t, client.seen, 2)
	require.Equal(t, schema.System, client.seen[0].Role)
	require.Contains(t, client.seen[1].Content, "晚安，做个好梦")
}

func TestClassifyClampsScale(t *testing.T) {
	c := NewClassifier(&stubClient{reply: `{"emotion":"angry","scale":9}`}, 0)
	require.Equal(t, float32(5), c.Classify(context.Background(), "x").Scale)

	c = NewClassifier(&stubClient{reply: `{"emotion":"angry","scale":0.2}`}, 0)
	require.Equal(t, float32(1), c.Classify(context.Background(), "x").Scale)
}

func TestClassifyNeutral(t *testing.T) {
	c := NewClassifier(&stubClient{reply: `{"emotion":"neutral","scale":5}`}, 0)
	d := c.Classify(context.Background(), "今天周三")
	require.True(t, d.IsNeutral())
}

func TestClassifyFallsBackOnError(t *testing.T) {
	line := "太好了，哈哈！"
	want := analysis.Analyze("", line)

	c := NewClassifier(&stubClient{err: errors.New("boom")}, 0)
	require.Equal(t, want, c.Classify(context.Background(), line))

	c = NewClassifier(&stubClient{reply: "I think happy"}, 0)
	require.Equal(t, want, c.Classify(context.Background(), line))

	c = NewClassifier(&stubClient{reply: `{"emotion":"bored"}`}, 0)
	require.Equal(t, want, c.Classify(context.Background(), line))
}

func TestNilClassifierUsesHeuristics(t *testing.T) {
	var c *Classifier
	require.Equal(t, analysis.Analyze("", "好难过"), c.Classify(context.Background(), "好难过"))
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	reply *schema.Message
	err   error
	got   []*schema.Message
}

func (s *stubModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	s.got = input
	return s.reply, s.err
}

func (s *stubModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestModelClientReturnsContent(t *testing.T) {
	stub := &stubModel{reply: schema.AssistantMessage("欢迎光临", nil)}
	c := NewModelClient(stub, "test")

	reply, err := c.Chat(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	require.Equal(t, "欢迎光临", reply)
	require.Len(t, stub.got, 1)
}

func TestModelClientErrors(t *testing.T) {
	boom := errors.New("connect: connection refused")
	_, err := NewModelClient(&stubModel{err: boom}, "test").Chat(context.Background(), nil)
	require.ErrorIs(t, err, boom)

	_, err = NewModelClient(&stubModel{reply: schema.AssistantMessage("  ", nil)}, "test").Chat(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyReply)
}

func TestOpenAIClientRoundTrip(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"好的"}}],"usage":{"total_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", srv.URL, "gpt-test", nil, nil)
	reply, err := c.Chat(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.AssistantMessage("prev", nil),
		schema.UserMessage("q"),
	})
	require.NoError(t, err)
	require.Equal(t, "好的", reply)

	require.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 3)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "assistant", got.Messages[1].Role)
	require.Equal(t, "user", got.Messages[2].Role)
}

func TestOpenAIClientSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", srv.URL, "gpt-test", nil, nil)
	_, err := c.Chat(context.Background(), []*schema.Message{schema.UserMessage("q")})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

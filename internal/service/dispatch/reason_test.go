package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-link/backend/internal/service/ai"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ReasonNone},
		{"deadline", fmt.Errorf("chat: %w", context.DeadlineExceeded), ReasonModelTimeout},
		{"status 429", &ai.StatusError{StatusCode: 429, Err: errors.New("slow down")}, ReasonModelRateLimited},
		{"status 401", &ai.StatusError{StatusCode: 401, Err: errors.New("bad key")}, ReasonModelAuthFailed},
		{"status 503", &ai.StatusError{StatusCode: 503, Err: errors.New("overloaded")}, ReasonModelServerError},
		{"dial error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, ReasonModelUnavailable},
		{"fetch failed text", errors.New("fetch failed"), ReasonModelUnavailable},
		{"refused text", errors.New("dial tcp 127.0.0.1:443: connect: connection refused"), ReasonModelUnavailable},
		{"timeout text", errors.New("upstream timeout"), ReasonModelTimeout},
		{"rate limit text", errors.New("Rate limit reached for requests"), ReasonModelRateLimited},
		{"403 text", errors.New("error, status code: 403"), ReasonModelAuthFailed},
		{"502 text", errors.New("bad gateway 502"), ReasonModelServerError},
		{"empty reply", ai.ErrEmptyReply, ReasonModelOtherError},
		{"other", errors.New("boom"), ReasonModelOtherError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestNotice(t *testing.T) {
	require.Equal(t, "AI 响应超时（等待超过60秒），请在 Web 面板配置中增加超时时间", Notice(ReasonModelTimeout, time.Minute))
	require.Equal(t, "AI 响应超时，请稍后重试", Notice(ReasonModelTimeout, 0))
	require.Equal(t, "连接 AI 服务失败，请检查网络或 API 配置", Notice(ReasonModelUnavailable, 0))
	require.Equal(t, "API 调用频率超限，请稍后再试", Notice(ReasonModelRateLimited, 0))
	require.Equal(t, "API 密钥无效，请联系管理员检查配置", Notice(ReasonModelAuthFailed, 0))
	require.Equal(t, "AI 服务暂时不可用，请稍后重试", Notice(ReasonModelServerError, 0))
	require.Equal(t, "处理消息时出现错误，请稍后重试", Notice(ReasonModelOtherError, 0))
	require.Equal(t, "处理回复时出现错误，请联系管理员", Notice(ReasonAssemblyError, 0))
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/zhouzirui/tavern-link/backend/internal/service/ai"
)

// Reason classifies why a cycle, or part of one, failed.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonModelTimeout       Reason = "model_timeout"
	ReasonModelUnavailable   Reason = "model_unavailable"
	ReasonModelRateLimited   Reason = "model_rate_limited"
	ReasonModelAuthFailed    Reason = "model_auth_failed"
	ReasonModelServerError   Reason = "model_server_error"
	ReasonModelOtherError    Reason = "model_other_error"
	ReasonAssemblyError      Reason = "assembly_error"
	ReasonDeliveryFailure    Reason = "delivery_failure"
	ReasonSynthesisFailure   Reason = "synthesis_failure"
	ReasonPersistenceFailure Reason = "persistence_failure"
)

// Classify maps a model call error to a Reason. Typed errors are checked
// before falling back to the error text.
func Classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonModelTimeout
	}

	var status *ai.StatusError
	if errors.As(err, &status) {
		switch status.StatusCode {
		case 408:
			return ReasonModelTimeout
		case 429:
			return ReasonModelRateLimited
		case 401, 403:
			return ReasonModelAuthFailed
		case 500, 502, 503, 504:
			return ReasonModelServerError
		}
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return ReasonModelUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection refused", "no such host", "fetch failed", "econnrefused"):
		return ReasonModelUnavailable
	case strings.Contains(msg, "timeout"):
		return ReasonModelTimeout
	case containsAny(msg, "rate limit", "429"):
		return ReasonModelRateLimited
	case containsAny(msg, "401", "403"):
		return ReasonModelAuthFailed
	case containsAny(msg, "500", "502", "503", "504"):
		return ReasonModelServerError
	}
	return ReasonModelOtherError
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Notice is the user-facing message for a failed cycle. deadline is the
// elapsed model deadline, or zero when the timeout came from the backend.
func Notice(reason Reason, deadline time.Duration) string {
	switch reason {
	case ReasonModelTimeout:
		if deadline > 0 {
			return fmt.Sprintf("AI 响应超时（等待超过%d秒），请在 Web 面板配置中增加超时时间", int(deadline/time.Second))
		}
		return "AI 响应超时，请稍后重试"
	case ReasonModelUnavailable:
		return "连接 AI 服务失败，请检查网络或 API 配置"
	case ReasonModelRateLimited:
		return "API 调用频率超限，请稍后再试"
	case ReasonModelAuthFailed:
		return "API 密钥无效，请联系管理员检查配置"
	case ReasonModelServerError:
		return "AI 服务暂时不可用，请稍后重试"
	case ReasonAssemblyError:
		return "处理回复时出现错误，请联系管理员"
	default:
		return "处理消息时出现错误，请稍后重试"
	}
}

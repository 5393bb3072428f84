package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"study-forge-api/internal/domain/service"
)

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// 视为暂时性失败的错误片段
var transientHints = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"overloaded",
	"eof",
}

// Classify 将提供商错误归类为可重试或不可重试
func Classify(err error) service.Outcome {
	if err == nil {
		return service.Fatal(errors.New("classify called with nil error"))
	}
	if retryable(err) {
		return service.Retryable(err)
	}
	return service.Fatal(err)
}

func retryable(err error) bool {
	// 调用方取消不重试，单次超时可以重试
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableHTTPStatus(gerr.Code)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return retryableHTTPStatus(code)
	}
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func retryableHTTPStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

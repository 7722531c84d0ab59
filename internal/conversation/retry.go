package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusClass はLLM APIのHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusClassOK は成功（2xx）。
	StatusClassOK StatusClass = iota
	// StatusClassRetry は再試行で回復し得るステータス（408/429/5xx）。
	StatusClassRetry
	// StatusClassStop は再試行しても回復しないステータス（認証エラーや不正リクエストなど）。
	StatusClassStop
)

const (
	defaultMaxAttempts = 2
	defaultRetryDelay  = 250 * time.Millisecond
	maxRetryDelay      = 2 * time.Second
)

// ClassifyStatus はHTTPステータスコードを分類する。
func ClassifyStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode <= 299:
		return StatusClassOK
	case statusCode == 408 || statusCode == 429:
		return StatusClassRetry
	case statusCode >= 500:
		return StatusClassRetry
	default:
		return StatusClassStop
	}
}

// RetryDelay は試行回数（0始まり）に応じた指数バックオフ遅延を返す。
// base, 2*base, 4*base ... と増加し、maxRetryDelayで頭打ちになる。
func RetryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// statusError は2xx以外の応答を表す。
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.message)
}

// retryable はerrが再試行対象かどうかを返す。
// ctxが終了している場合は再試行しない。
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return ClassifyStatus(se.code) == StatusClassRetry
	}
	// 応答を受け取れなかった場合（接続断など）
	var re *requestError
	return errors.As(err, &re)
}

// requestError はHTTPリクエスト自体の失敗を表す。
type requestError struct{ err error }

func (e *requestError) Error() string { return "request failed: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// withRetry はfnを最大attempts回実行する。再試行できないエラーはそのまま返す。
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) (string, error)) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(RetryDelay(base, i-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", fmt.Errorf("retry aborted after %d attempt(s): %w", i, lastErr)
			case <-timer.C:
			}
		}

		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return "", err
		}
	}
	return "", fmt.Errorf("gave up after %d attempt(s): %w", attempts, lastErr)
}

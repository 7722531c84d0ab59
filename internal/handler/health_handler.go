package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Pinger は依存先の疎通確認を行う。*sql.DBと*sqlx.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc は関数をPingerとして扱うためのアダプタ。
type PingerFunc func(ctx context.Context) error

// PingContext はf(ctx)を呼び出す。
func (f PingerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// healthTimeout は依存先ごとのPingのタイムアウト。
const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler は依存先すべてにPingし、結果を返すハンドラーを生成する。
// いずれかが失敗した場合は503を返す。
// GET /health
func NewHealthHandler(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := checks[name].PingContext(ctx)
			cancel()
			if err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				resp.Status = "unavailable"
				resp.Checks[name] = "unavailable"
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

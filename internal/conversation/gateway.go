// Package conversation はLLMへの単発の問い合わせを行う会話ゲートウェイを提供する。
// 会話履歴は保持せず、呼び出しごとにペルソナとメッセージのみを送る。
package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hitoshi/companionhub/internal/config"
	"github.com/hitoshi/companionhub/internal/metrics"
	"github.com/hitoshi/companionhub/internal/security"
)

// FallbackReply はLLM呼び出しに失敗した場合の応答。
const FallbackReply = "Sorry, I'm having trouble connecting right now. Can we try again later?"

// maxResponseSize はLLMレスポンスボディの読み込み上限。
const maxResponseSize = 1 << 20

// Reply は会話ゲートウェイの応答。
type Reply struct {
	Text string
	// Fallback はLLM呼び出しに失敗しFallbackReplyを返した場合にtrue。
	Fallback bool
}

// Gateway は会話ゲートウェイのインターフェース。
// 失敗時もエラーは返さず、Fallback=trueのReplyを返す。
type Gateway interface {
	Chat(ctx context.Context, companionName, roleDescription, userMessage string) Reply
}

// SystemInstruction はコンパニオンのペルソナを表すシステム指示を返す。
func SystemInstruction(companionName, roleDescription string) string {
	return fmt.Sprintf("You are %s, a helpful AI companion acting as a %s. Be friendly, concise, and professional.",
		companionName, roleDescription)
}

// GeminiGateway はGemini generateContent REST APIを呼び出すGateway実装。
type GeminiGateway struct {
	client      *http.Client
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	timeout     time.Duration
	sanitizer   security.ContentSanitizerService
	metrics     metrics.MetricsCollector
	maxAttempts int
	retryDelay  time.Duration
}

// Option はGeminiGatewayの設定を変更する。
type Option func(*GeminiGateway)

// WithHTTPClient はHTTPクライアントを差し替える。
func WithHTTPClient(c *http.Client) Option {
	return func(g *GeminiGateway) { g.client = c }
}

// WithMetrics はメトリクス収集を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(g *GeminiGateway) { g.metrics = m }
}

// WithRetry は429/5xxや接続失敗時の試行回数と初回待機時間を設定する。
// attemptsが1の場合は再試行しない。
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(g *GeminiGateway) {
		g.maxAttempts = attempts
		g.retryDelay = baseDelay
	}
}

// NewGeminiGateway はGeminiGatewayを生成する。
// HTTPクライアントはデフォルトでSSRFガード付きのものを使う。
func NewGeminiGateway(cfg config.GeminiConfig, guard security.SSRFGuardService, sanitizer security.ContentSanitizerService, opts ...Option) *GeminiGateway {
	g := &GeminiGateway{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		sanitizer:   sanitizer,
		metrics:     metrics.Nop{},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = guard.NewSafeClient(cfg.Timeout)
	}
	return g
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction content   `json:"systemInstruction"`
	Contents          []content `json:"contents"`
	GenerationConfig  struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

// Chat はLLMにメッセージを送り、応答テキストを返す。
func (g *GeminiGateway) Chat(ctx context.Context, companionName, roleDescription, userMessage string) Reply {
	start := time.Now()
	text, err := g.generate(ctx, companionName, roleDescription, userMessage)
	g.metrics.RecordGatewayLatency(time.Since(start))
	if err != nil {
		slog.WarnContext(ctx, "conversation gateway failed",
			slog.String("companion", companionName),
			slog.String("error", err.Error()),
		)
		return Reply{Text: FallbackReply, Fallback: true}
	}
	return Reply{Text: g.sanitizer.PlainText(text)}
}

func (g *GeminiGateway) generate(ctx context.Context, companionName, roleDescription, userMessage string) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("gemini api key is not configured")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body := generateRequest{
		SystemInstruction: content{Parts: []part{{Text: SystemInstruction(companionName, roleDescription)}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: userMessage}}}},
	}
	body.GenerationConfig.Temperature = g.temperature

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	// タイムアウトは再試行を含めた全体に適用する
	return withRetry(ctx, g.maxAttempts, g.retryDelay, func(ctx context.Context) (string, error) {
		return g.post(ctx, payload)
	})
}

// post はgenerateContentを1回呼び出し、候補のテキストを返す。
func (g *GeminiGateway) post(ctx context.Context, payload []byte) (string, error) {
	u := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, url.PathEscape(g.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &requestError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if ClassifyStatus(resp.StatusCode) != StatusClassOK {
		return "", &statusError{code: resp.StatusCode, message: gjson.GetBytes(raw, "error.message").String()}
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("invalid JSON response")
	}

	// 候補が複数パートに分かれる場合は連結する
	var sb strings.Builder
	gjson.GetBytes(raw, "candidates.0.content.parts.#.text").ForEach(func(_, v gjson.Result) bool {
		sb.WriteString(v.String())
		return true
	})
	return sb.String(), nil
}

// ChatAsync はGateway.Chatを別ゴルーチンで実行し、結果を1件だけ送るチャネルを返す。
// チャネルはバッファ付きのため、呼び出し元が受信せずに離脱してもゴルーチンはリークしない。
// 呼び出し元のキャンセルは伝播させず、LLM呼び出しはゲートウェイ側のタイムアウトで終了する。
func ChatAsync(ctx context.Context, gw Gateway, companionName, roleDescription, userMessage string) <-chan Reply {
	ch := make(chan Reply, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		ch <- gw.Chat(detached, companionName, roleDescription, userMessage)
	}()
	return ch
}

var _ Gateway = (*GeminiGateway)(nil)

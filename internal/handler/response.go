package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 失敗した場合はINVALID_REQUESTを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		reason := "request body must be valid JSON"
		if errors.Is(err, io.EOF) {
			reason = "request body is empty"
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			reason = "request body is too large"
		}
		middleware.WriteAPIError(w, model.NewInvalidRequestError(reason))
		return false
	}
	return true
}

// actorFrom はセッションミドルウェアが注入したユーザーを返す。
// 取得できない場合は401を書き込んでnilを返す。
func actorFrom(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewNotAuthenticatedError("authentication required"))
		return nil
	}
	return user
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr, ok := model.AsAPIError(err); ok {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storerating/internal/model"
)

// ErrorResponseBody はすべてのエラーレスポンスで共通のJSONボディ。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
// 未知のコードは500。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidCredentials,
		model.ErrCodeInvalidCurrentPassword, model.ErrCodeLoginFailed:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFValidation:
		return http.StatusForbidden
	case model.ErrCodeDuplicateEmail, model.ErrCodeInvalidRole,
		model.ErrCodeInvalidRating, model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は statusCode と apiErr の内容でエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode error response", slog.String("code", apiErr.Code), slog.String("error", err.Error()))
	}
}

// WriteAPIError はエラーコードから導いたステータスで apiErr を書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
}

// WriteInternalServerError は詳細を含まない INTERNAL_ERROR を返す。原因はログにのみ残すこと。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}

// WriteUnauthenticated は理由を区別しない UNAUTHENTICATED を返す。
func WriteUnauthenticated(w http.ResponseWriter) {
	WriteAPIError(w, model.NewUnauthenticatedError())
}

func WriteForbidden(w http.ResponseWriter) {
	WriteAPIError(w, model.NewForbiddenError())
}

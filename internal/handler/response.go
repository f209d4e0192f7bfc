package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storerating/internal/middleware"
	"github.com/hitoshi/storerating/internal/model"
	"github.com/hitoshi/storerating/internal/rating"
)

// maxRequestBodyBytes はJSONリクエストボディの読み取り上限。
const maxRequestBodyBytes = 1 << 20

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Address: u.Address,
		Role:    string(u.Role),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディが不正です"))
		return false
	}
	return true
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーを統一エラーレスポンスへ変換する。
// 認証に関するエラーは理由を区別せず返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	if mapped := apiErrorForSentinel(err); mapped != nil {
		middleware.WriteAPIError(w, mapped)
		return
	}
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// apiErrorForSentinel はドメインの番兵エラーをAPIErrorへ対応付ける。該当しなければnil。
func apiErrorForSentinel(err error) *model.APIError {
	switch {
	case errors.Is(err, model.ErrDuplicateEmail):
		return model.NewDuplicateEmailError()
	case errors.Is(err, model.ErrInvalidCredentials):
		return model.NewInvalidCredentialsError()
	case errors.Is(err, model.ErrInvalidCurrentPassword):
		return model.NewInvalidCurrentPasswordError()
	case errors.Is(err, model.ErrUnauthenticated):
		return model.NewUnauthenticatedError()
	case errors.Is(err, model.ErrNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, rating.ErrPersistence):
		return model.NewPersistenceFailedError()
	default:
		return nil
	}
}

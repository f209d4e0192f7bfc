package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/storerating/internal/access"
)

// NewAccessMiddleware は呼び出し元が要件を満たさないリクエストを拒否するミドルウェアを返す。
// 未認証は401、ロール不一致は403を統一フォーマットで返す。
// NewIdentityMiddleware の後に配置する。
func NewAccessMiddleware(req access.Requirement) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			switch access.Authorize(id, req) {
			case access.Allowed:
				next.ServeHTTP(w, r)
			case access.Unauthorized:
				WriteUnauthenticated(w)
			default:
				slog.Warn("access denied",
					slog.String("user_id", id.UserID),
					slog.String("role", string(id.Role)),
					slog.String("required_role", string(req.Role())),
					slog.String("path", r.URL.Path),
				)
				WriteForbidden(w)
			}
		})
	}
}

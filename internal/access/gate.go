// Package access はロールに基づく認可判定を提供する。
// 判定は入出力を伴わない純粋関数で、ロール間に階層はない。
package access

import "github.com/hitoshi/storerating/internal/model"

// Decision は認可判定の結果。
type Decision int

const (
	// Allowed は操作が許可されたことを表す。
	Allowed Decision = iota
	// Unauthorized は呼び出し元が未認証であることを表す。
	Unauthorized
	// Forbidden は認証済みだがロールが要件を満たさないことを表す。
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Requirement は操作に必要な条件。ゼロ値は認証済みであれば誰でもよいことを表す。
type Requirement struct {
	role model.Role
}

// AnyAuthenticated は認証済みの呼び出し元すべてを許可する要件を返す。
func AnyAuthenticated() Requirement {
	return Requirement{}
}

// RequireRole は指定ロールとの完全一致を要求する要件を返す。
func RequireRole(role model.Role) Requirement {
	return Requirement{role: role}
}

// Role は要件のロールを返す。ロール不問の場合は空文字。
func (r Requirement) Role() model.Role {
	return r.role
}

// Authorize は呼び出し元が要件を満たすかを判定する。
// identityがnilの場合は未認証として扱う。未定義のロールは常に拒否する。
func Authorize(identity *model.Identity, req Requirement) Decision {
	if identity == nil {
		return Unauthorized
	}

	switch identity.Role {
	case model.RoleUser, model.RoleStoreOwner, model.RoleAdmin:
	default:
		return Forbidden
	}

	if req.role == "" || req.role == identity.Role {
		return Allowed
	}
	return Forbidden
}

// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ReviewSanitizer はレビュー本文からHTMLマークアップを取り除き、
// プレーンテキストとして感情分類器へ渡す。保存される本文は変更しない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Clean は全てのタグを除去し、文字参照を復元したプレーンテキストを返す。
	// 前後の空白は取り除く。同一入力に対して常に同一出力を返す（冪等）。
	Clean(raw string) string
}

// reviewSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフで、並行に呼び出してよい。
type reviewSanitizer struct {
	policy *bluemonday.Policy
}

// NewReviewSanitizer はTextSanitizerの新しいインスタンスを生成する。
// StrictPolicyを使用するため、script/styleの中身を含めすべての要素が除去される。
func NewReviewSanitizer() TextSanitizer {
	return &reviewSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Clean はマークアップを除去したプレーンテキストを返す。
func (s *reviewSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

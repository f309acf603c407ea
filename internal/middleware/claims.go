// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/notegate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに検証済みクレームを格納するためのキー。
var claimsContextKey = contextKey("claims")

// TokenResolver はベアラートークンの検証に必要なインターフェース。
// auth.TokenServiceが実装する。
type TokenResolver interface {
	Resolve(token string) (*model.Claims, error)
}

// BearerToken はAuthorizationヘッダー、無ければaccess_tokenクエリからトークンを取り出す。
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// NewClaimsMiddleware はベアラートークンを検証し、クレームをコンテキストに注入するミドルウェアを返す。
// トークンが無い、または無効なリクエストはクレーム無しのまま後続に渡す。
// 認証の要否はハンドラーとアクセス判定が決める。
func NewClaimsMiddleware(resolver TokenResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := resolver.Resolve(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// ClaimsFromContext はリクエストコンテキストからクレームを取得する。未認証の場合はnilを返す。
func ClaimsFromContext(ctx context.Context) *model.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*model.Claims)
	return claims
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *model.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

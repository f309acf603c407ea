package model

import (
	"strings"
	"time"
)

// スコープ定義
const (
	// ScopeSession はログインで発行されるセッショントークンのスコープ。
	ScopeSession = "session"
	// ScopeSubscribeAll は全ノートへのアクセスを許可するスコープ。
	ScopeSubscribeAll = "subscribe:all"
	// scopeDownloadNotePrefix は特定ノートへのアクセスを許可するスコープの接頭辞。
	scopeDownloadNotePrefix = "download:note:"
)

// DownloadNoteScope は指定slugのノートのみを許可するスコープ文字列を返す。
func DownloadNoteScope(slug string) string {
	return scopeDownloadNotePrefix + slug
}

// Claims は署名検証済みトークンから復元したクレームを表す。永続化はしない。
// SubjectはセッショントークンではユーザーID、購入トークンではメールアドレスになる。
type Claims struct {
	Subject   string
	Scopes    []string
	Email     string // 任意
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasScope は指定スコープを含むかを返す。
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GrantsNote はスコープだけでノートへのアクセスが許可されるかを返す。
func (c *Claims) GrantsNote(slug string) bool {
	return c.HasScope(DownloadNoteScope(slug)) || c.HasScope(ScopeSubscribeAll)
}

// SubjectIsEmail はSubjectがメールアドレス形式かを返す。
func (c *Claims) SubjectIsEmail() bool {
	return strings.Contains(c.Subject, "@")
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類を表す。HTTPステータスへの変換はハンドラー層が行う。
type Kind int

const (
	// KindInternal は分類不能な内部エラー。
	KindInternal Kind = iota
	// KindUnauthenticated は認証情報が無い、または無効な場合。
	KindUnauthenticated
	// KindForbidden は認証情報は有効だが権限が不足している場合。
	KindForbidden
	// KindNotFound はslug・ユーザー・セッションが存在しない場合。
	KindNotFound
	// KindUpstreamUnavailable はソースリポジトリや決済バックエンドに到達できない、または未設定の場合。
	KindUpstreamUnavailable
	// KindConflict は一意制約違反（メールアドレス重複、決済セッションの再送など）。
	KindConflict
	// KindValidation は入力値が不正な場合。
	KindValidation
)

// String はログ出力用の名前を返す。
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     Kind   // エラー分類
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, note, payment, sync, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf はエラーの分類を返す。APIErrorを含まないエラーはKindInternalとなる。
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeAccessDenied         = "ACCESS_DENIED"
	ErrCodeBuyerUnidentified    = "BUYER_UNIDENTIFIED"
	ErrCodeNoteNotFound         = "NOTE_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeEmailAlreadyExists   = "EMAIL_ALREADY_EXISTS"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodePaymentsUnavailable  = "PAYMENTS_UNAVAILABLE"
	ErrCodeSourceUnavailable    = "SOURCE_UNAVAILABLE"
	ErrCodeDuplicatePayment     = "DUPLICATE_PAYMENT"
	ErrCodeWebhookNotConfigured = "WEBHOOK_NOT_CONFIGURED"
	ErrCodeInvalidSignature     = "INVALID_SIGNATURE"
	ErrCodeAdminForbidden       = "ADMIN_FORBIDDEN"
)

// NewUnauthenticatedError は認証が必要な場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてアクセストークンを取得してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewAccessDeniedError はノートへのアクセスが拒否された場合のエラーを生成する。
func NewAccessDeniedError(slug string) *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeAccessDenied,
		Message:  fmt.Sprintf("このノートへのアクセス権がありません: %s", slug),
		Category: "auth",
		Action:   "購入済みのアクセストークン、または購読中のアカウントでアクセスしてください。",
	}
}

// NewBuyerUnidentifiedError は有料ノートの購入者を特定できない場合のエラーを生成する。
func NewBuyerUnidentifiedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeBuyerUnidentified,
		Message:  "purchase requires identified buyer",
		Category: "payment",
		Action:   "メールアドレスを含むアカウントでログインしてから購入してください。",
	}
}

// NewNoteNotFoundError はノートが見つからない場合のエラーを生成する。
func NewNoteNotFoundError(slug string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeNoteNotFound,
		Message:  fmt.Sprintf("指定されたノートが見つかりません: %s", slug),
		Category: "note",
		Action:   "slugを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEmailAlreadyExistsError はメールアドレスが既に登録済みの場合のエラーを生成する。
func NewEmailAlreadyExistsError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeEmailAlreadyExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewInvalidInputError は入力値が不正な場合のエラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewPaymentsUnavailableError は決済バックエンドが未設定または到達不能な場合のエラーを生成する。
func NewPaymentsUnavailableError(err error) *APIError {
	return &APIError{
		Kind:     KindUpstreamUnavailable,
		Code:     ErrCodePaymentsUnavailable,
		Message:  "決済サービスを利用できません。",
		Category: "payment",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewSourceUnavailableError はソースリポジトリからの取得に失敗した場合のエラーを生成する。
// actionには確認すべき設定値を含めること。
func NewSourceUnavailableError(action string, err error) *APIError {
	return &APIError{
		Kind:     KindUpstreamUnavailable,
		Code:     ErrCodeSourceUnavailable,
		Message:  "ソースリポジトリからノートを取得できませんでした。",
		Category: "sync",
		Action:   action,
		Err:      err,
	}
}

// NewDuplicatePaymentError は同一決済セッションが既に処理済みの場合のエラーを生成する。
func NewDuplicatePaymentError(sessionID string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDuplicatePayment,
		Message:  fmt.Sprintf("決済セッションは処理済みです: %s", sessionID),
		Category: "payment",
		Action:   "対応は不要です。",
	}
}

// NewWebhookNotConfiguredError はWebhookの検証用シークレットが未設定の場合のエラーを生成する。
func NewWebhookNotConfiguredError(name string) *APIError {
	return &APIError{
		Kind:     KindUpstreamUnavailable,
		Code:     ErrCodeWebhookNotConfigured,
		Message:  fmt.Sprintf("%s が設定されていません。", name),
		Category: "system",
		Action:   "サーバーの環境変数を確認してください。",
	}
}

// NewInvalidSignatureError はWebhookの署名検証に失敗した場合のエラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeInvalidSignature,
		Message:  "署名の検証に失敗しました。",
		Category: "system",
		Action:   "Webhookのシークレット設定を確認してください。",
	}
}

// NewAdminForbiddenError は管理用シークレットが一致しない、または未設定の場合のエラーを生成する。
func NewAdminForbiddenError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeAdminForbidden,
		Message:  "管理操作の権限がありません。",
		Category: "auth",
		Action:   "ADMIN_SYNC_SECRET を確認してください。",
	}
}

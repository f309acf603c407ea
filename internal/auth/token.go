package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/notegate/internal/model"
)

// ErrInvalidCredential はトークンを信頼できない場合に返される。
// 署名不一致・期限切れ・必須クレーム欠落などの理由は区別しない。
var ErrInvalidCredential = errors.New("invalid credential")

// tokenClaims はJWTのペイロード。scopesは空配列でも必ず出力する。
type tokenClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
	Email  string   `json:"email,omitempty"`
}

// IssueOption はトークン発行時の任意項目を設定する。
type IssueOption func(*tokenClaims)

// WithEmail はemailクレームを付与する。
func WithEmail(email string) IssueOption {
	return func(c *tokenClaims) {
		c.Email = email
	}
}

// TokenService は単一の共有シークレットでHS256トークンを発行・検証する。
// 状態を持たないため並行利用できる。
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService はTokenServiceを生成する。secretが空の場合はpanicする。
func NewTokenService(secret string) *TokenService {
	if secret == "" {
		panic("auth: token secret must not be empty")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}
}

// Issue は署名済みトークンを発行する。
func (s *TokenService) Issue(subject string, scopes []string, ttl time.Duration, opts ...IssueOption) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if scopes == nil {
		scopes = []string{}
	}

	now := s.now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	for _, opt := range opts {
		opt(claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Resolve はトークンを検証し、クレームを返す。
// 検証に1つでも失敗した場合はErrInvalidCredentialを返す。
func (s *TokenService) Resolve(token string) (*model.Claims, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredential
	}

	if claims.Subject == "" || claims.IssuedAt == nil || claims.Scopes == nil {
		return nil, ErrInvalidCredential
	}

	return &model.Claims{
		Subject:   claims.Subject,
		Scopes:    claims.Scopes,
		Email:     claims.Email,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

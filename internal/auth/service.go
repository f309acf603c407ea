// Package auth はパスワード認証とトークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration // セッショントークンの有効期間
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	AccessToken string
	User        *model.User
}

// Service は登録・ログイン・現在ユーザー取得のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	tokens   *TokenService
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokens *TokenService, config ServiceConfig) *Service {
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
		config:   config,
	}
}

// NormalizeEmail は比較用にメールアドレスを正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register はユーザーを登録する。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewInvalidInputError("メールアドレスの形式が正しくありません")
	}
	if len([]rune(password)) < MinPasswordLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("パスワードは%d文字以上にしてください", MinPasswordLength))
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, model.NewEmailAlreadyExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("ユーザーを登録しました", slog.String("user_id", user.ID))
	return user, nil
}

// Login は認証に成功した場合にセッショントークンを発行する。
// メールアドレスの有無とパスワード不一致は同じエラーで返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user.ID, []string{model.ScopeSession}, s.config.SessionTTL, WithEmail(user.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	return &LoginResult{AccessToken: token, User: user}, nil
}

// Me はセッショントークンのクレームから現在のユーザーを取得する。
func (s *Service) Me(ctx context.Context, claims *model.Claims) (*model.User, error) {
	if claims == nil || !claims.HasScope(model.ScopeSession) {
		return nil, model.NewUnauthenticatedError()
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

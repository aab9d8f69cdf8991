package application

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sakuapp/saku/internal/domain/entity"
	repo "github.com/sakuapp/saku/internal/domain/repository"
	"github.com/sakuapp/saku/pkg/helpers"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
)

// AccountService is the identity provider: registration, login sessions, and
// avatar storage. Logging in hydrates the user's ledger so the aggregate is
// ready before the first render.
type AccountService struct {
	Repo      repo.AccountRepository
	Ledgers   *LedgerService
	JWT       *helpers.JWTManager
	GCS       *storage.Client
	GCSBucket string
	Redis     *redis.Client
	Logger    *logrus.Logger
}

type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

func sessionKey(userID string) string {
	return "user:session:" + userID
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func NewAccountService(r repo.AccountRepository, ledgers *LedgerService, jwt *helpers.JWTManager, gcs *storage.Client, gcsBucket string, rdb *redis.Client, logger *logrus.Logger) *AccountService {
	return &AccountService{
		Repo:      r,
		Ledgers:   ledgers,
		JWT:       jwt,
		GCS:       gcs,
		GCSBucket: gcsBucket,
		Redis:     rdb,
		Logger:    logger,
	}
}

type LoginResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Register creates the account. The ledger document itself is created lazily
// on first login.
func (s *AccountService) Register(ctx context.Context, email, password, name string) (*entity.Account, error) {
	if existing, err := s.Repo.GetByEmail(email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	}
	hash, err := helpers.HashPassword(password)
	if err != nil {
		return nil, err
	}
	a := &entity.Account{Email: email, Password: hash, Name: name}
	if err := s.Repo.Create(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate validates email/password without issuing tokens.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*entity.Account, error) {
	a, err := s.Repo.GetByEmail(email)
	if err != nil || a == nil {
		return nil, ErrInvalidCredentials
	}
	if !helpers.CompareHashAndPassword(a.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// IssueTokens generates access/refresh tokens and records a session in Redis.
// The Redis session doubles as the resolved-identity marker the synchronizer
// keys its commits on.
func (s *AccountService) IssueTokens(ctx context.Context, a *entity.Account) (TokenPair, error) {
	sid := uuid.NewString()
	access, aexp, err := s.JWT.GenerateAccessToken(a.ID, sid)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", a.ID).Error("generate access token failed")
		return TokenPair{}, err
	}
	refresh, rexp, err := s.JWT.GenerateRefreshToken(a.ID, sid)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", a.ID).Error("generate refresh token failed")
		return TokenPair{}, err
	}

	if s.Redis != nil {
		fields := map[string]any{
			"user_id":    a.ID,
			"email":      a.Email,
			"name":       a.Name,
			"sid":        sid,
			"logged_in":  true,
			"created_at": nowRFC3339(),
		}
		key := sessionKey(a.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, 24*time.Hour)
		if _, rErr := pipe.Exec(ctx); rErr != nil {
			s.Logger.WithError(rErr).WithField("key", key).Warn("redis pipeline failed")
		}
	}

	return TokenPair{AccessToken: access, AccessTokenExpiry: aexp, RefreshToken: refresh, RefreshTokenExpiry: rexp}, nil
}

// Login authenticates, issues a session, and hydrates the ledger.
func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResponse, TokenPair, error) {
	a, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.IssueTokens(ctx, a)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if s.Ledgers != nil {
		if _, hErr := s.Ledgers.Hydrate(ctx, a.ID); hErr != nil {
			// The session stays valid; the ledger hydrates on first use.
			s.Logger.WithError(hErr).WithField("user_id", a.ID).Warn("ledger hydration at login failed")
		}
	}
	return &LoginResponse{UserID: a.ID, Email: a.Email, Name: a.Name}, pair, nil
}

func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (TokenPair, string, error) {
	claims, err := s.JWT.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, "", ErrInvalidCredentials
	}
	a, err := s.Repo.GetByID(claims.UserID)
	if err != nil || a == nil {
		return TokenPair{}, "", ErrInvalidCredentials
	}
	// Validate current session id matches the token's sid
	if s.Redis != nil {
		key := sessionKey(a.ID)
		data, rErr := s.Redis.HGetAll(ctx, key).Result()
		if rErr != nil || len(data) == 0 || data["sid"] != claims.SessionID {
			return TokenPair{}, "", ErrInvalidCredentials
		}
	}
	pair, err := s.IssueTokens(ctx, a)
	if err != nil {
		return TokenPair{}, "", err
	}
	return pair, a.ID, nil
}

// Logout drops the Redis session, which also un-resolves the identity the
// synchronizer checks before committing.
func (s *AccountService) Logout(ctx context.Context, userID string) {
	if s.Redis == nil {
		return
	}
	if err := helpers.RedisDel(ctx, s.Redis, sessionKey(userID)); err != nil {
		s.Logger.WithError(err).WithField("user_id", userID).Warn("delete session failed")
	}
}

func (s *AccountService) GetAccount(userID string) (*entity.Account, error) {
	a, err := s.Repo.GetByID(userID)
	if err != nil || a == nil {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

// UploadAvatar stores the image in GCS and writes the URL into both the
// account row and the ledger profile.
func (s *AccountService) UploadAvatar(ctx context.Context, userID string, r io.Reader, filename, contentType string) (string, error) {
	a, err := s.Repo.GetByID(userID)
	if err != nil || a == nil {
		return "", ErrAccountNotFound
	}
	if s.GCS == nil || s.GCSBucket == "" {
		return "", errors.New("gcs not configured")
	}
	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	objectPath := filepath.ToSlash(filepath.Join("avatars", userID, id+ext))
	url, err := helpers.UploadImageToGCS(ctx, s.GCS, s.GCSBucket, objectPath, contentType, r)
	if err != nil {
		return "", err
	}
	a.AvatarURL = url
	if err := s.Repo.Update(a); err != nil {
		return "", err
	}
	if s.Ledgers != nil {
		if _, lErr := s.Ledgers.UpdateProfile(ctx, userID, UpdateProfileInput{AvatarURL: url}); lErr != nil {
			s.Logger.WithError(lErr).WithField("user_id", userID).Warn("sync avatar to ledger failed")
		}
	}
	return url, nil
}

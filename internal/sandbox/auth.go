package sandbox

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/pkg/log"
	"github.com/pribylovaa/go-marketplace-client/pkg/redact"
)

const issuer = "marketplace-sandbox"

var (
	// ErrInvalidCredentials - пара email/пароль неверна или пользователь не найден.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken - токен некорректен по формату/подписи или неизвестен.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired - срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked - refresh-токен отозван (logout или ротация).
	ErrTokenRevoked = errors.New("token revoked")
	// ErrEmailTaken - e-mail уже занят.
	ErrEmailTaken = errors.New("email already taken")
)

type AuthOptions struct {
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type user struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash []byte
}

type refreshEntry struct {
	UserID  uuid.UUID
	Revoked bool
}

type accessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Gen    int64  `json:"gen"`
	jwt.RegisteredClaims
}

// Auth - пользователи в памяти (bcrypt), access-токены HS256 JWT,
// refresh-токены - случайные строки, хранятся по sha256-хэшу и ротируются
// при каждом обновлении.
type Auth struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu    sync.RWMutex
	users map[string]*user // по email

	// refresh-записи по хэшу с TTL = refreshTTL.
	refresh *cache.Cache

	// gen - поколение access-токенов; ExpireAccess делает все выпущенные недействительными.
	gen atomic.Int64

	now func() time.Time
}

func NewAuth(opts AuthOptions) *Auth {
	a := &Auth{
		secret:     []byte(opts.JWTSecret),
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		users:      make(map[string]*user),
		now:        func() time.Time { return time.Now().UTC() },
	}

	if a.accessTTL <= 0 {
		a.accessTTL = 15 * time.Minute
	}
	if a.refreshTTL <= 0 {
		a.refreshTTL = 30 * 24 * time.Hour
	}

	a.refresh = cache.New(a.refreshTTL, 10*time.Minute)

	return a
}

// Register создаёт пользователя и сразу выдаёт пару токенов.
func (a *Auth) Register(ctx context.Context, in models.Registration) (*models.AuthResponse, error) {
	const op = "sandbox.Auth.Register"

	email := strings.ToLower(strings.TrimSpace(in.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u := &user{ID: uuid.New(), Email: email, Name: strings.TrimSpace(in.Name), PasswordHash: hash}

	a.mu.Lock()
	if _, ok := a.users[email]; ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	a.users[email] = u
	a.mu.Unlock()

	log.From(ctx).Info("user_registered",
		slog.String("user_id", u.ID.String()),
		slog.String("email", redact.Email(email)),
	)

	return a.issue(ctx, u)
}

// Login проверяет пароль и выдаёт пару токенов.
func (a *Auth) Login(ctx context.Context, in models.Credentials) (*models.AuthResponse, error) {
	const op = "sandbox.Auth.Login"

	email := strings.ToLower(strings.TrimSpace(in.Email))

	a.mu.RLock()
	u, ok := a.users[email]
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(in.Password)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return a.issue(ctx, u)
}

// Refresh обменивает refresh-токен на новую пару; старый отзывается.
func (a *Auth) Refresh(ctx context.Context, plain string) (*models.AuthResponse, error) {
	const op = "sandbox.Auth.Refresh"

	lg := log.From(ctx)
	hash := hashToken(plain)

	// Проверка и отзыв под одной блокировкой: повторное использование
	// одного refresh-токена выдаёт пару не более одного раза.
	a.mu.Lock()
	v, ok := a.refresh.Get(hash)
	if !ok {
		a.mu.Unlock()
		lg.Warn("refresh_lookup_not_found", slog.String("op", op))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	entry := v.(refreshEntry)
	if entry.Revoked {
		a.mu.Unlock()
		lg.Warn("refresh_revoked", slog.String("op", op), slog.String("user_id", entry.UserID.String()))
		return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}
	entry.Revoked = true
	a.refresh.Set(hash, entry, cache.DefaultExpiration)

	var u *user
	for _, cand := range a.users {
		if cand.ID == entry.UserID {
			u = cand
			break
		}
	}
	a.mu.Unlock()

	if u == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	lg.Info("refresh_rotated", slog.String("user_id", u.ID.String()))

	return a.issue(ctx, u)
}

// Revoke отзывает refresh-токен (logout). Неизвестный токен - не ошибка.
func (a *Auth) Revoke(ctx context.Context, plain string) {
	hash := hashToken(plain)

	a.mu.Lock()
	defer a.mu.Unlock()

	if v, ok := a.refresh.Get(hash); ok {
		entry := v.(refreshEntry)
		entry.Revoked = true
		a.refresh.Set(hash, entry, cache.DefaultExpiration)
		log.From(ctx).Info("refresh_revoked_by_logout", slog.String("user_id", entry.UserID.String()))
	}
}

// ExpireAccess делает недействительными все выпущенные access-токены.
// Refresh-токены остаются валидными, поэтому следующий запрос клиента
// пройдёт через протокол обновления.
func (a *Auth) ExpireAccess() {
	a.gen.Add(1)
}

// VerifyAccess проверяет access-токен и возвращает id пользователя.
func (a *Auth) VerifyAccess(tokenStr string) (string, error) {
	const op = "sandbox.Auth.VerifyAccess"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}
		return "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	if claims.Gen != a.gen.Load() {
		return "", fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	return claims.UserID, nil
}

func (a *Auth) issue(ctx context.Context, u *user) (*models.AuthResponse, error) {
	const op = "sandbox.Auth.issue"

	now := a.now()

	claims := accessClaims{
		UserID: u.ID.String(),
		Email:  u.Email,
		Gen:    a.gen.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   u.ID.String(),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		log.From(ctx).Error("access_token_sign_failed", slog.String("op", op), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	plain := base64.RawURLEncoding.EncodeToString(b)

	a.mu.Lock()
	a.refresh.Set(hashToken(plain), refreshEntry{UserID: u.ID}, cache.DefaultExpiration)
	a.mu.Unlock()

	return &models.AuthResponse{
		AccessToken:  access,
		RefreshToken: plain,
		ExpiresIn:    int64(a.accessTTL / time.Second),
		User:         &models.User{ID: u.ID.String(), Email: u.Email, Name: u.Name, Role: "customer"},
	}, nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

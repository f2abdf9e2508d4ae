// Модели REST-контракта аутентификации (JSON в camelCase, как у бэкенда).
package models

import "time"

// TokenPair - пара учётных данных клиента.
//   - AccessToken - короткоживущий bearer-токен для каждого запроса;
//   - RefreshToken - долгоживущий секрет для выпуска новой пары.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Credentials - тело POST /auth/login.
type Credentials struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// Registration - тело POST /auth/register.
type Registration struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Name     string `json:"name"     validate:"omitempty,max=64"`
}

// RefreshRequest - тело POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// User - профиль, который бэкенд возвращает вместе с токенами.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// AuthResponse - ответ login/register/refresh.
// ExpiresIn - время жизни access-токена в секундах (0 - неизвестно).
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	User         *User  `json:"user,omitempty"`
}

// Pair возвращает пару токенов из ответа.
func (r AuthResponse) Pair() TokenPair {
	return TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// AccessTTL - время жизни access-токена как time.Duration.
func (r AuthResponse) AccessTTL() time.Duration {
	if r.ExpiresIn <= 0 {
		return 0
	}

	return time.Duration(r.ExpiresIn) * time.Second
}

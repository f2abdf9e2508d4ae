package apiclient

import "errors"

var (
	// ErrNoRefreshToken - 401, а refresh-токена в хранилище нет; сессия сброшена.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshFailed - POST /auth/refresh завершился ошибкой; сессия сброшена.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrInvalidCredentials - учётные данные не прошли локальную валидацию.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

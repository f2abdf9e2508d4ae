// errors описывает формат ошибок REST-контракта маркетплейса и служит обеим
// сторонам:
//   - клиенту: FromResponse превращает не-2xx ответ в типизированный *APIError;
//   - sandbox-бэкенду: WriteError пишет тот же конверт в ответ.
//
// Формат на проводе:
//
//	{"error": {"code": "unauthenticated", "message": "...", "request_id": "..."}}
//
// Если тело ответа не в этом формате, код и сообщение восстанавливаются по
// HTTP-статусу (см. baseFromStatus).
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// Максимальный размер тела ошибки, который читаем целиком.
const maxErrorBody = 64 << 10

// APIError - ошибка, полученная от бэкенда.
// Status - HTTP-статус ответа.
// Code - короткий стабильный машиночитаемый код.
// Message - человекочитаемое описание.
// RequestID - X-Request-Id запроса (для трассировки).
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d %s: %s (request_id=%s)", e.Status, e.Code, e.Message, e.RequestID)
	}

	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// ErrorResponse - корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// New собирает *APIError с кодом и сообщением по умолчанию для статуса.
func New(status int) *APIError {
	code, msg := baseFromStatus(status)
	return &APIError{Status: status, Code: code, Message: msg}
}

// FromResponse строит *APIError из не-2xx ответа. Тело читается (не более
// maxErrorBody) и НЕ закрывается - это ответственность вызывающего.
//
// Поведение:
//   - тело в формате ErrorResponse - берём code/message/request_id оттуда;
//   - иначе - code/message по статусу;
//   - request_id, если его нет в теле, берём из заголовка X-Request-Id.
func FromResponse(resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("errors.FromResponse: nil response")
	}

	apiErr := New(resp.StatusCode)

	if resp.Body != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		var env ErrorResponse
		if len(raw) > 0 && json.Unmarshal(raw, &env) == nil && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			if env.Error.Message != "" {
				apiErr.Message = env.Error.Message
			}
			apiErr.RequestID = env.Error.RequestID
		}
	}

	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header.Get("X-Request-Id")
	}

	return apiErr
}

// StatusOf возвращает HTTP-статус из цепочки ошибок (0, если *APIError нет).
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}

	return 0
}

// IsUnauthorized - 401: access-токен просрочен/невалиден.
func IsUnauthorized(err error) bool { return StatusOf(err) == http.StatusUnauthorized }

// IsForbidden - 403.
func IsForbidden(err error) bool { return StatusOf(err) == http.StatusForbidden }

// IsNotFound - 404.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }

// WriteError - хелпер для HTTP-хендлеров sandbox.
// Пишет статус и конверт, добавляет request_id из заголовка запроса, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, status int, message string) {
	apiErr := New(status)
	if strings.TrimSpace(message) != "" {
		apiErr.Message = message
	}

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		apiErr.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: *apiErr})
}

// baseFromStatus - базовый маппинг HTTP-статус -> код/сообщение:
//   - 400 -> invalid_argument
//   - 401 -> unauthenticated (access-токен истёк/невалиден)
//   - 403 -> permission_denied (в т.ч. отвергнутый refresh-токен)
//   - 404 -> not_found
//   - 409 -> already_exists
//   - 412 -> failed_precondition
//   - 429 -> resource_exhausted
//   - 499 -> canceled
//   - 501 -> unimplemented
//   - 503 -> unavailable
//   - 504 -> deadline_exceeded
//   - прочие 4xx -> bad_request, прочие -> internal
func baseFromStatus(status int) (string, string) {
	switch status {
	case http.StatusBadRequest:
		return "invalid_argument", "invalid argument"
	case http.StatusUnauthorized:
		return "unauthenticated", "unauthenticated"
	case http.StatusForbidden:
		return "permission_denied", "permission denied"
	case http.StatusNotFound:
		return "not_found", "not found"
	case http.StatusConflict:
		return "already_exists", "already exists"
	case http.StatusPreconditionFailed:
		return "failed_precondition", "failed precondition"
	case http.StatusTooManyRequests:
		return "resource_exhausted", "resource exhausted"
	case StatusClientClosedRequest:
		return "canceled", "canceled"
	case http.StatusNotImplemented:
		return "unimplemented", "unimplemented"
	case http.StatusServiceUnavailable:
		return "unavailable", "service unavailable"
	case http.StatusGatewayTimeout:
		return "deadline_exceeded", "deadline exceeded"
	}

	if status >= 400 && status < 500 {
		return "bad_request", "bad request"
	}

	return "internal", "internal error"
}

// apiclient - HTTP-клиент REST API маркетплейса с автоматическим продлением
// сессии.
//
// Каждый запрос уходит с текущим access-токеном из tokenstore.Store. Ответ
// 401 запускает протокол обновления: ровно один POST /auth/refresh на все
// одновременно упавшие запросы, после чего каждый из них повторяется один раз
// с новым токеном. Если продлить сессию нельзя, хранилище очищается, а
// Navigator уводит пользователя на страницу входа.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apierrors "github.com/pribylovaa/go-marketplace-client/internal/errors"
	"github.com/pribylovaa/go-marketplace-client/internal/metrics"
	"github.com/pribylovaa/go-marketplace-client/internal/tokenstore"
	"github.com/pribylovaa/go-marketplace-client/internal/transport"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultRefreshTimeout = 10 * time.Second
	defaultLoginPath      = "/login"
	defaultUserAgent      = "marketplace-client"
)

// Options - зависимости и параметры клиента.
// Обязательны BaseURL и Store; остальное имеет значения по умолчанию.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      tokenstore.Store
	Navigator  Navigator
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	// RequestTimeout ограничивает одну попытку запроса, если у контекста
	// вызывающего нет своего дедлайна.
	RequestTimeout time.Duration
	// RefreshTimeout ограничивает вызов /auth/refresh.
	RefreshTimeout time.Duration

	UserAgent string
	// LoginPath передаётся Navigator при истечении сессии.
	LoginPath string
}

type Client struct {
	baseURL   string
	http      *http.Client
	store     tokenstore.Store
	nav       Navigator
	log       *slog.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate
	loginPath string

	requestTimeout time.Duration
	refreshTimeout time.Duration

	gate gate
}

// Request описывает один вызов API.
// Path - путь относительно BaseURL ("/cart/123"), Body кодируется в JSON,
// Params добавляются к query.
type Request struct {
	Method string
	Path   string
	Body   any
	Params url.Values
}

func New(opts Options) (*Client, error) {
	const op = "apiclient.New"

	if opts.Store == nil {
		return nil, fmt.Errorf("%s: store is required", op)
	}

	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", op, opts.BaseURL)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		baseURL:        strings.TrimRight(base.String(), "/"),
		store:          opts.Store,
		nav:            opts.Navigator,
		log:            log,
		metrics:        opts.Metrics,
		validate:       validator.New(),
		loginPath:      opts.LoginPath,
		requestTimeout: opts.RequestTimeout,
		refreshTimeout: opts.RefreshTimeout,
	}

	if c.nav == nil {
		c.nav = logNavigator{log: log}
	}
	if c.loginPath == "" {
		c.loginPath = defaultLoginPath
	}
	if c.requestTimeout == 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = defaultRefreshTimeout
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	hc := &http.Client{}
	if opts.HTTPClient != nil {
		*hc = *opts.HTTPClient
	}
	hc.Transport = transport.Chain(hc.Transport,
		transport.Metadata(ua),
		transport.Logging(log),
		transport.Metrics(opts.Metrics),
	)
	c.http = hc

	return c, nil
}

// Do выполняет запрос с протоколом продления сессии.
// out == nil или пустое тело ответа - декодирование пропускается.
// Не-2xx ответ возвращается как *errors.APIError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	const op = "apiclient.Do"

	body, err := encodeBody(req.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	token, err := c.store.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: read access token: %w", op, err)
	}

	err = c.send(ctx, req.Method, req.Path, req.Params, body, token, out)
	if err == nil || !apierrors.IsUnauthorized(err) {
		return err
	}

	fresh, rerr := c.renew(ctx, token, err, true)
	if rerr != nil {
		return rerr
	}

	// Повтор ровно один: второй 401 отдаётся вызывающему как есть.
	return c.send(ctx, req.Method, req.Path, req.Params, body, fresh, out)
}

// send - одна попытка запроса без протокола продления.
func (c *Client) send(ctx context.Context, method, path string, params url.Values, body []byte, token string, out any) error {
	ctx, cancel := transport.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if token != "" {
		ctx = transport.WithAuthToken(ctx, token)
	}

	u, err := c.resolve(path, params)
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	r, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	r.Header.Set("Accept", "application/json")
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierrors.FromResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}

	return nil
}

func (c *Client) resolve(path string, params url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}

	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	return b, nil
}

// Get выполняет GET и декодирует ответ в T.
func Get[T any](ctx context.Context, c *Client, path string, params url.Values) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Params: params}, &out)
	return out, err
}

// Post выполняет POST с JSON-телом и декодирует ответ в T.
func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, &out)
	return out, err
}

func Put[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, &out)
	return out, err
}

func Patch[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, &out)
	return out, err
}

func Delete(ctx context.Context, c *Client, path string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}

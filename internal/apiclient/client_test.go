package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/pribylovaa/go-marketplace-client/internal/errors"
	"github.com/pribylovaa/go-marketplace-client/internal/metrics"
	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/internal/tokenstore"
	"github.com/pribylovaa/go-marketplace-client/mocks"
)

// Файл тестов клиента:
// - httptest-бэкенд с ресурсами и /auth/refresh, считающий вызовы;
// - однополётное обновление при параллельных 401 (errgroup);
// - сценарии без refresh-токена, с отказом refresh и повторным 401;
// - gomock для Store/Navigator там, где важен порядок вызовов.

func silent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// backend - бэкенд, принимающий только валидный токен.
type backend struct {
	valid atomic.Value // string

	refreshCalls  atomic.Int32
	resourceCalls atomic.Int32

	// refreshStatus != 0 - /auth/refresh отвечает этим статусом.
	refreshStatus int
	// beforeRefresh вызывается до ответа /auth/refresh.
	beforeRefresh func()

	mu      sync.Mutex
	bearers []string
}

func newBackend(valid string) *backend {
	b := &backend{}
	b.valid.Store(valid)
	return b
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/refresh":
		b.refreshCalls.Add(1)
		if b.beforeRefresh != nil {
			b.beforeRefresh()
		}
		if b.refreshStatus != 0 {
			apierrors.WriteError(w, r, b.refreshStatus, "refresh token revoked")
			return
		}

		var req models.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "refresh-1" {
			apierrors.WriteError(w, r, http.StatusForbidden, "unknown refresh token")
			return
		}

		b.valid.Store("access-2")
		writeJSON(w, http.StatusOK, models.AuthResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 900})
	default:
		b.resourceCalls.Add(1)

		tok := bearer(r)
		b.mu.Lock()
		b.bearers = append(b.bearers, tok)
		b.mu.Unlock()

		if tok == "" || tok != b.valid.Load().(string) {
			apierrors.WriteError(w, r, http.StatusUnauthorized, "token expired")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path, "query": r.URL.RawQuery})
	}
}

type recNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recNavigator) RedirectToLogin(_ context.Context, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recNavigator) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func newTestClient(t *testing.T, srv *httptest.Server, st tokenstore.Store, nav Navigator) *Client {
	t.Helper()

	c, err := New(Options{
		BaseURL:        srv.URL,
		HTTPClient:     srv.Client(),
		Store:          st,
		Navigator:      nav,
		Logger:         silent(),
		RequestTimeout: 5 * time.Second,
		RefreshTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func seeded(t *testing.T, access, refresh string) *tokenstore.Memory {
	t.Helper()
	st := tokenstore.NewMemory()
	require.NoError(t, st.SetTokens(context.Background(), models.TokenPair{AccessToken: access, RefreshToken: refresh}, 0))
	return st
}

// waitForWaiters ждёт, пока в очереди gate окажется n запросов.
func waitForWaiters(c *Client, n int) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.gate.mu.Lock()
		got := len(c.gate.waiters)
		c.gate.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{BaseURL: "http://x"})
	require.Error(t, err, "store обязателен")

	_, err = New(Options{BaseURL: "not a url", Store: tokenstore.NewMemory()})
	require.Error(t, err)

	c, err := New(Options{BaseURL: "http://127.0.0.1:1/", Store: tokenstore.NewMemory()})
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:1", c.baseURL)
	require.Equal(t, defaultLoginPath, c.loginPath)
	require.Equal(t, defaultRequestTimeout, c.requestTimeout)
	require.Equal(t, defaultRefreshTimeout, c.refreshTimeout)
}

func TestDo_AttachesBearerAndDecodes(t *testing.T) {
	t.Parallel()

	be := newBackend("access-1")
	srv := httptest.NewServer(be)
	defer srv.Close()

	c := newTestClient(t, srv, seeded(t, "access-1", "refresh-1"), nil)

	out, err := Get[map[string]string](context.Background(), c, "/products", url.Values{"q": {"tea"}})
	require.NoError(t, err)
	require.Equal(t, "/products", out["path"])
	require.Equal(t, "q=tea", out["query"])
	require.Equal(t, int32(0), be.refreshCalls.Load())
}

func TestDo_WithoutToken_SendsNoAuthorization(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, tokenstore.NewMemory(), nil)

	require.NoError(t, Delete(context.Background(), c, "/cart/1/items/2"))
	require.Equal(t, "", got.Load())
}

func TestDo_NonUnauthorizedErrorPropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, r, http.StatusNotFound, "no such shop")
	}))
	defer srv.Close()

	nav := &recNavigator{}
	c := newTestClient(t, srv, seeded(t, "a", "r"), nav)

	_, err := Get[map[string]any](context.Background(), c, "/shops/42", nil)
	require.Error(t, err)
	require.True(t, apierrors.IsNotFound(err))

	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "no such shop", apiErr.Message)
	require.Empty(t, nav.calls())
}

func TestDo_PostEncodesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			apierrors.WriteError(w, r, http.StatusBadRequest, "json expected")
			return
		}
		var in map[string]int
		_ = json.NewDecoder(r.Body).Decode(&in)
		writeJSON(w, http.StatusCreated, map[string]int{"qty": in["qty"] * 2})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, seeded(t, "a", "r"), nil)

	out, err := Post[map[string]int](context.Background(), c, "cart/1/items", map[string]int{"qty": 3})
	require.NoError(t, err)
	require.Equal(t, 6, out["qty"])
}

// N параллельных 401 при IDLE -> ровно один refresh, все N повторены с одним новым токеном.
func TestDo_ConcurrentUnauthorized_SingleRefresh(t *testing.T) {
	t.Parallel()

	be := newBackend("access-expired-on-server")
	srv := httptest.NewServer(be)
	defer srv.Close()

	reg := prometheus.NewRegistry()
	st := seeded(t, "access-1", "refresh-1")
	c, err := New(Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Store:      st,
		Logger:     silent(),
		Metrics:    metrics.New(reg),
	})
	require.NoError(t, err)

	be.beforeRefresh = func() { time.Sleep(50 * time.Millisecond) }

	const n = 10
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := Get[map[string]string](ctx, c, "/products", nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), be.refreshCalls.Load())

	at, _ := st.AccessToken(context.Background())
	rt, _ := st.RefreshToken(context.Background())
	require.Equal(t, "access-2", at)
	require.Equal(t, "refresh-2", rt)

	// Успешные ответы получены только с новым токеном.
	be.mu.Lock()
	defer be.mu.Unlock()
	ok := 0
	for _, b := range be.bearers {
		if b == "access-2" {
			ok++
		}
	}
	require.Equal(t, n, ok)

	require.Equal(t, 1.0, counterValue(t, reg, "marketplace_client_refresh_total", metrics.RefreshOK))
}

// counterValue достаёт значение счётчика с единственной меткой = label.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}

	return 0
}

// Корзина и заказы одновременно с истёкшим токеном: один POST /auth/refresh, оба запроса успешны.
func TestDo_CartAndOrders_ShareOneRefresh(t *testing.T) {
	t.Parallel()

	be := newBackend("server-rotated")
	srv := httptest.NewServer(be)
	defer srv.Close()

	c := newTestClient(t, srv, seeded(t, "access-1", "refresh-1"), nil)
	be.beforeRefresh = func() { waitForWaiters(c, 1) }

	var cart, orders map[string]string
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() (err error) {
		cart, err = Get[map[string]string](ctx, c, "/cart/123", nil)
		return err
	})
	g.Go(func() (err error) {
		orders, err = Get[map[string]string](ctx, c, "/orders/user/123", nil)
		return err
	})
	require.NoError(t, g.Wait())

	require.Equal(t, "/cart/123", cart["path"])
	require.Equal(t, "/orders/user/123", orders["path"])
	require.Equal(t, int32(1), be.refreshCalls.Load())
	require.Equal(t, int32(4), be.resourceCalls.Load())
}

// Refresh отвечает 403: токены удалены, переход на /login, оба ожидающих запроса отклонены.
func TestDo_RefreshForbidden_RejectsAllAndRedirects(t *testing.T) {
	t.Parallel()

	be := newBackend("server-rotated")
	be.refreshStatus = http.StatusForbidden
	srv := httptest.NewServer(be)
	defer srv.Close()

	ctrl := gomock.NewController(t)
	nav := mocks.NewMockNavigator(ctrl)
	nav.EXPECT().RedirectToLogin(gomock.Any(), "/login").Times(1)

	st := seeded(t, "access-1", "refresh-1")
	c := newTestClient(t, srv, st, nav)
	be.beforeRefresh = func() { waitForWaiters(c, 1) }

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, p := range []string{"/cart/123", "/orders/user/123"} {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			_, errs[i] = Get[map[string]string](context.Background(), c, p, nil)
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, ErrRefreshFailed)
		require.True(t, apierrors.IsForbidden(err))
	}

	at, _ := st.AccessToken(context.Background())
	rt, _ := st.RefreshToken(context.Background())
	require.Empty(t, at)
	require.Empty(t, rt)
	require.Equal(t, int32(1), be.refreshCalls.Load())
}

// Повторённый запрос снова получает 401 -> ошибка наружу, второго повтора нет.
func TestDo_SecondUnauthorized_NotRetriedAgain(t *testing.T) {
	t.Parallel()

	var resource atomic.Int32
	var refresh atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			refresh.Add(1)
			writeJSON(w, http.StatusOK, models.AuthResponse{AccessToken: "access-2", RefreshToken: "refresh-2"})
			return
		}
		resource.Add(1)
		apierrors.WriteError(w, r, http.StatusUnauthorized, "")
	}))
	defer srv.Close()

	nav := &recNavigator{}
	c := newTestClient(t, srv, seeded(t, "access-1", "refresh-1"), nav)

	_, err := Get[map[string]any](context.Background(), c, "/orders/user/1", nil)
	require.Error(t, err)
	require.True(t, apierrors.IsUnauthorized(err))
	require.NotErrorIs(t, err, ErrRefreshFailed)

	require.Equal(t, int32(2), resource.Load())
	require.Equal(t, int32(1), refresh.Load())
	require.Empty(t, nav.calls())
}

// Нет refresh-токена: без вызова /auth/refresh, хранилище очищено, переход на вход.
func TestDo_NoRefreshToken(t *testing.T) {
	t.Parallel()

	be := newBackend("server-rotated")
	srv := httptest.NewServer(be)
	defer srv.Close()

	nav := &recNavigator{}
	st := seeded(t, "access-1", "")
	c := newTestClient(t, srv, st, nav)

	_, err := Get[map[string]any](context.Background(), c, "/cart/123", nil)
	require.ErrorIs(t, err, ErrNoRefreshToken)
	require.True(t, apierrors.IsUnauthorized(err), "исходная 401 сохраняется в цепочке")

	require.Equal(t, int32(0), be.refreshCalls.Load())
	require.Equal(t, []string{"/login"}, nav.calls())

	at, _ := st.AccessToken(context.Background())
	require.Empty(t, at)
}

// 401 пришёл после того, как другой запрос уже обновил токен: повтор без refresh.
func TestDo_StaleToken_RetriesWithStoredToken(t *testing.T) {
	t.Parallel()

	be := newBackend("access-2")
	srv := httptest.NewServer(be)
	defer srv.Close()

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	gomock.InOrder(
		st.EXPECT().AccessToken(gomock.Any()).Return("access-1", nil),
		st.EXPECT().AccessToken(gomock.Any()).Return("access-2", nil),
	)

	c := newTestClient(t, srv, st, nil)

	_, err := Get[map[string]string](context.Background(), c, "/shops", nil)
	require.NoError(t, err)
	require.Equal(t, int32(0), be.refreshCalls.Load())
	require.Equal(t, int32(2), be.resourceCalls.Load())
}

func TestDo_StoreReadError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("запрос не должен уходить")
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	boom := errors.New("redis down")
	st.EXPECT().AccessToken(gomock.Any()).Return("", boom)

	c := newTestClient(t, srv, st, nil)

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/shops"}, nil)
	require.ErrorIs(t, err, boom)
}

// Ожидающий запрос с отменённым контекстом выходит с ctx.Err(), не ломая очередь.
func TestRenew_WaiterHonoursContext(t *testing.T) {
	t.Parallel()

	c, err := New(Options{BaseURL: "http://127.0.0.1:1", Store: tokenstore.NewMemory(), Logger: silent()})
	require.NoError(t, err)

	c.gate.mu.Lock()
	c.gate.refreshing = true
	c.gate.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.renew(ctx, "old", apierrors.New(http.StatusUnauthorized), true)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	c.gate.mu.Lock()
	require.Len(t, c.gate.waiters, 1)
	c.gate.mu.Unlock()
}

// Явный Refresh из нескольких горутин - один вызов /auth/refresh, один токен.
func TestRefresh_Concurrent_Coalesced(t *testing.T) {
	t.Parallel()

	be := newBackend("access-1")
	srv := httptest.NewServer(be)
	defer srv.Close()

	c := newTestClient(t, srv, seeded(t, "access-1", "refresh-1"), nil)

	const n = 5
	be.beforeRefresh = func() { waitForWaiters(c, n-1) }

	tokens := make([]string, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			tokens[i], err = c.Refresh(ctx)
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), be.refreshCalls.Load())
	for _, tok := range tokens {
		require.Equal(t, "access-2", tok)
	}
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.AuthResponse{AccessToken: "access-2"})
	}))
	defer srv.Close()

	st := seeded(t, "access-1", "refresh-1")
	c := newTestClient(t, srv, st, nil)

	tok, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", tok)

	rt, _ := st.RefreshToken(context.Background())
	require.Equal(t, "refresh-1", rt)
}

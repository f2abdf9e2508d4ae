package sandbox_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pribylovaa/go-marketplace-client/internal/apiclient"
	apierrors "github.com/pribylovaa/go-marketplace-client/internal/errors"
	"github.com/pribylovaa/go-marketplace-client/internal/metrics"
	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/internal/realtime"
	"github.com/pribylovaa/go-marketplace-client/internal/sandbox"
	"github.com/pribylovaa/go-marketplace-client/internal/tokenstore"
)

// Сквозные тесты: apiclient и realtime против настоящего sandbox-роутера.

type env struct {
	srv   *httptest.Server
	auth  *sandbox.Auth
	hub   *sandbox.Hub
	store *tokenstore.Memory
	reg   *prometheus.Registry
	nav   []string
	cl    *apiclient.Client
}

func silent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) *env {
	t.Helper()

	e := &env{
		auth:  sandbox.NewAuth(sandbox.AuthOptions{JWTSecret: "e2e-secret"}),
		store: tokenstore.NewMemory(),
		reg:   prometheus.NewRegistry(),
	}
	e.hub = sandbox.NewHub(e.auth, silent())

	h := sandbox.NewHandlers(e.auth, sandbox.NewCatalog(), e.hub)
	e.srv = httptest.NewServer(sandbox.NewRouter(h, sandbox.Options{Logger: silent(), Timeout: 5 * time.Second}))
	t.Cleanup(func() {
		e.hub.Close()
		e.srv.Close()
	})

	cl, err := apiclient.New(apiclient.Options{
		BaseURL:    e.srv.URL,
		HTTPClient: e.srv.Client(),
		Store:      e.store,
		Navigator: apiclient.NavigatorFunc(func(_ context.Context, path string) {
			e.nav = append(e.nav, path)
		}),
		Logger:  silent(),
		Metrics: metrics.New(e.reg),
	})
	require.NoError(t, err)
	e.cl = cl

	return e
}

func (e *env) register(t *testing.T) string {
	t.Helper()

	resp, err := e.cl.Register(context.Background(), models.Registration{Email: "buyer@example.com", Password: "secret1"})
	require.NoError(t, err)
	return resp.User.ID
}

func refreshCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "marketplace_client_refresh_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestE2E_ExpiredAccess_CartAndOrdersShareOneRefresh(t *testing.T) {
	e := setup(t)
	uid := e.register(t)
	ctx := context.Background()

	_, err := apiclient.Post[sandbox.Cart](ctx, e.cl, "/cart/"+uid+"/items", map[string]any{"productId": "p1", "quantity": 2})
	require.NoError(t, err)

	oldAccess, _ := e.store.AccessToken(ctx)
	e.auth.ExpireAccess()

	var cart sandbox.Cart
	var orders struct{ Orders []sandbox.Order }
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cart, err = apiclient.Get[sandbox.Cart](gctx, e.cl, "/cart/"+uid, nil)
		return err
	})
	g.Go(func() (err error) {
		orders, err = apiclient.Get[struct{ Orders []sandbox.Order }](gctx, e.cl, "/orders/user/"+uid, nil)
		return err
	})
	require.NoError(t, g.Wait())

	require.Len(t, cart.Items, 1)
	require.Empty(t, orders.Orders)
	require.Equal(t, 1.0, refreshCount(t, e.reg, metrics.RefreshOK))

	newAccess, _ := e.store.AccessToken(ctx)
	require.NotEqual(t, oldAccess, newAccess)
	require.Empty(t, e.nav)
}

func TestE2E_RevokedRefresh_LogsOut(t *testing.T) {
	e := setup(t)
	uid := e.register(t)
	ctx := context.Background()

	// Logout на сервере отзывает refresh, но локально пару вернём обратно.
	rt, _ := e.store.RefreshToken(ctx)
	at, _ := e.store.AccessToken(ctx)
	e.auth.Revoke(ctx, rt)
	e.auth.ExpireAccess()
	require.NoError(t, e.cl.SetTokens(ctx, models.TokenPair{AccessToken: at, RefreshToken: rt}))

	_, err := apiclient.Get[sandbox.Cart](ctx, e.cl, "/cart/"+uid, nil)
	require.ErrorIs(t, err, apiclient.ErrRefreshFailed)
	require.True(t, apierrors.IsForbidden(err))

	require.Equal(t, []string{"/login"}, e.nav)
	left, _ := e.cl.AccessToken(ctx)
	require.Empty(t, left)
}

func TestE2E_ForeignResourceForbidden_NoRefresh(t *testing.T) {
	e := setup(t)
	e.register(t)

	_, err := apiclient.Get[sandbox.Cart](context.Background(), e.cl, "/cart/someone-else", nil)
	require.True(t, apierrors.IsForbidden(err))
	require.Equal(t, 0.0, refreshCount(t, e.reg, metrics.RefreshOK))
}

func TestE2E_LoginLogout(t *testing.T) {
	e := setup(t)
	e.register(t)
	ctx := context.Background()

	require.NoError(t, e.cl.Logout(ctx))

	_, err := apiclient.Get[map[string]any](ctx, e.cl, "/shops", nil)
	require.ErrorIs(t, err, apiclient.ErrNoRefreshToken)

	_, err = e.cl.Login(ctx, models.Credentials{Email: "buyer@example.com", Password: "bad-password"})
	require.True(t, apierrors.IsUnauthorized(err))

	_, err = e.cl.Login(ctx, models.Credentials{Email: "buyer@example.com", Password: "secret1"})
	require.NoError(t, err)

	shops, err := apiclient.Get[struct{ Shops []sandbox.Shop }](ctx, e.cl, "/shops", nil)
	require.NoError(t, err)
	require.Len(t, shops.Shops, 2)
}

func TestE2E_RealtimeChatAndOrderStatus(t *testing.T) {
	e := setup(t)
	uid := e.register(t)
	ctx := context.Background()

	token, _ := e.cl.AccessToken(ctx)

	rt := realtime.New(realtime.Options{
		URL:    "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws",
		Logger: silent(),
	})

	chat := make(chan models.ChatMessage, 1)
	status := make(chan map[string]string, 1)
	rt.On(realtime.ChatMessage, func(m realtime.Message) {
		var cm models.ChatMessage
		if m.Decode(&cm) == nil {
			chat <- cm
		}
	})
	rt.On(realtime.OrderStatus, func(m realtime.Message) {
		var st map[string]string
		if m.Decode(&st) == nil {
			status <- st
		}
	})

	require.NoError(t, rt.Connect(ctx, token))
	t.Cleanup(func() { _ = rt.Disconnect() })

	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rt.Send(realtime.ChatMessage, models.ChatMessage{ChatID: "c1", Text: "hello"}))

	select {
	case cm := <-chat:
		require.Equal(t, uid, cm.SenderID)
		require.Equal(t, "hello", cm.Text)
		require.NotZero(t, cm.SentAt)
	case <-time.After(2 * time.Second):
		t.Fatal("chat echo not received")
	}

	_, err := apiclient.Post[sandbox.Cart](ctx, e.cl, "/cart/"+uid+"/items", map[string]any{"productId": "p3", "quantity": 1})
	require.NoError(t, err)
	order, err := apiclient.Post[sandbox.Order](ctx, e.cl, "/orders/user/"+uid, nil)
	require.NoError(t, err)

	select {
	case st := <-status:
		require.Equal(t, order.ID, st["orderId"])
		require.Equal(t, "created", st["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("order.status not received")
	}
}

func TestE2E_WebSocketRejectsBadToken(t *testing.T) {
	e := setup(t)

	resp, err := e.srv.Client().Get(e.srv.URL + "/ws?token=bad")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestE2E_RequestMetricsRecorded(t *testing.T) {
	e := setup(t)
	e.register(t)

	_, err := apiclient.Get[map[string]any](context.Background(), e.cl, "/products", nil)
	require.NoError(t, err)

	require.GreaterOrEqual(t, gatherCount(t, e.reg, "marketplace_client_requests_total"), 2)
}

func gatherCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()

	n, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	return n
}

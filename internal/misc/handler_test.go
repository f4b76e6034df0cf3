package misc

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/forgefit/forgefit/internal/auth"
	"github.com/forgefit/forgefit/internal/middleware"
	"github.com/forgefit/forgefit/internal/telemetry/metrics"
	testingpkg "github.com/forgefit/forgefit/pkg/testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// use TestMain(m *testing.M) { ... } for
// global set-up/tear-down for all the tests in a package
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// INFO: https://github.com/go-redis/redis/issues/1029
		goleak.IgnoreTopFunction(
			"github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper",
		),
	)
}

type testRequestRateLimiter struct {
	// key to limit map
	Limits map[string]int
}

func (l *testRequestRateLimiter) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	res := &redis_rate.Result{
		Limit: redis_rate.Limit{
			Rate:   0,
			Burst:  0,
			Period: 0,
		},
		Allowed:    0,
		Remaining:  0,
		RetryAfter: 0,
		ResetAfter: 0,
	}

	foundLimit, ok := l.Limits[key]
	if !ok || foundLimit == 0 {
		return res, nil
	}

	res.Allowed = l.Limits[key]
	l.Limits[key]--

	return res, nil
}

func setupMiscRouterForTests(
	t *testing.T,
	authService *auth.Service,
	redisClient *redis.Client,
	reqRateLimiter *testRequestRateLimiter,
	metricsManager *metrics.Manager,
) *mux.Router {
	t.Helper()

	r := mux.NewRouter()
	authMiddleware := middleware.NewAuthMiddlewareHandler(
		auth.NewLoginChecker(time.Hour, redisClient),
	)

	// the same setup as in Server.routerSetup() ... these are not so much of a "unit" tests
	r.Use(middleware.PanicRecovery(metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(metricsManager))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	handler := NewHandler(nil, "dummy", authService)
	handler.SetupRoutes(r, reqRateLimiter, metricsManager, 1)

	return r
}

func TestNewMiscHandler(t *testing.T) {
	mainRouter := mux.NewRouter()
	handler := NewHandler(nil, "dummy", &auth.Service{})
	handler.SetupRoutes(mainRouter, nil, metrics.NewTestManager(), 5)
	require.NotNil(t, handler)
	require.NotNil(t, mainRouter)

	for caseName, route := range map[string]struct {
		name   string
		path   string
		method string
	}{
		"route-get": {
			name:   "root",
			path:   "/",
			method: "GET",
		},
		"route-post": {
			name:   "root",
			path:   "/",
			method: "POST",
		},
		"route-options": {
			name:   "root",
			path:   "/",
			method: "OPTIONS",
		},
		"quote": {
			name:   "quote",
			path:   "/quote/random",
			method: "GET",
		},
		"myip": {
			name:   "myip",
			path:   "/myip",
			method: "GET",
		},
		"version": {
			name:   "version",
			path:   "/version",
			method: "GET",
		},
		"login": {
			name:   "login",
			path:   "/a/login",
			method: "POST",
		},
		"logout": {
			name:   "logout",
			path:   "/a/logout",
			method: "GET",
		},
		"logout-otions": {
			name:   "logout",
			path:   "/a/logout",
			method: "OPTIONS",
		},
	} {
		t.Run(caseName, func(t *testing.T) {
			req, err := http.NewRequest(route.method, route.path, nil)
			require.NoError(t, err)

			routeMatch := &mux.RouteMatch{}
			route := mainRouter.Get(route.name)
			require.NotNil(t, route)
			isMatch := route.Match(req, routeMatch)
			assert.True(t, isMatch, caseName)
		})
	}
}

func TestQuotesManager_RandomQuote(t *testing.T) {
	quotesCsv := strings.NewReader(
		"No pain, no gain;;motivation\n" +
			"The body achieves what the mind believes;Unknown;motivation\n" +
			"Rest is part of the program;Unknown;recovery\n",
	)
	qm, err := NewQuoteManager(csv.NewReader(quotesCsv))
	require.NoError(t, err)
	require.Len(t, qm.Quotes, 3)

	q := qm.RandomQuote()
	require.NotNil(t, q)
	assert.NotEmpty(t, q.Author)

	q = qm.RandomQuoteInCategory("recovery")
	require.NotNil(t, q)
	assert.Equal(t, QuoteCategory("recovery"), q.Category)
	assert.Equal(t, "Rest is part of the program", q.Text)

	assert.Nil(t, qm.RandomQuoteInCategory("mobility"))

	empty, err := NewQuoteManager(csv.NewReader(strings.NewReader("")))
	require.NoError(t, err)
	assert.Nil(t, empty.RandomQuote())
}

func TestLogin(t *testing.T) {
	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("REDIS_HOST not set, skipping login test")
	}
	require.NoError(t, os.Setenv("REDIS_PASS", "<remove>"))
	_, rdb := testingpkg.GetRedisClientAndCtx(t)
	defer func() {
		assert.NoError(t, rdb.Close())
	}()

	username := "testuser"
	password := "testpass"
	passwordHash := "$2a$14$6Gmhg85si2etd3K9oB8nYu1cxfbrdmhkg6wI6OXsa88IF4L2r/L9i" // testpass

	authService := auth.NewAuthService(&auth.Admin{
		Username:     username,
		PasswordHash: passwordHash,
	}, time.Hour, rdb)
	require.NotNil(t, authService)
	testToken := "test_token"
	randStringFunc := func(s int) (string, error) {
		return testToken, nil
	}
	authService.RandStringFunc = randStringFunc

	reqRateLimiter := &testRequestRateLimiter{
		Limits: map[string]int{},
	}
	r := setupMiscRouterForTests(
		t,
		authService,
		rdb,
		reqRateLimiter,
		metrics.NewTestManager(),
	)

	reqRateLimiter.Limits["login"] = 1

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/a/login", nil)
	req.PostForm = url.Values{}
	req.PostForm.Add("username", username)
	req.PostForm.Add("password", password)
	req.Header.Set("Origin", "test")

	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, fmt.Sprintf(`{"token": "%s"}`, testToken), rr.Body.String())

	// next time fails, rate limited
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooEarly, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "retry after"))
}

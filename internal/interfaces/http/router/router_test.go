package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/academy/backend/internal/application/access"
	"github.com/academy/backend/internal/application/enrollment"
	"github.com/academy/backend/internal/application/gateway"
	"github.com/academy/backend/internal/application/ledger"
	"github.com/academy/backend/internal/infrastructure/auth"
	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/academy/backend/internal/interfaces/http/handler"
	"github.com/academy/backend/internal/interfaces/http/middleware"
	"github.com/academy/backend/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	deviceToken = "turnstile-secret"
	paymeKey    = "payme-key"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingFunc func() error

func (f pingFunc) Ping(context.Context) error { return f() }

type testServer struct {
	engine *gin.Engine
	db     *gorm.DB
	token  string
	health *handler.HealthHandler
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	db := testutil.NewSQLiteDB(t)

	students := persistence.NewGormStudentRepository(db)
	contracts := persistence.NewGormContractRepository(db)
	txs := persistence.NewGormTransactionRepository(db)
	scope := persistence.NewGormLedgerScope(db)

	allocator := enrollment.NewAllocatorService(persistence.NewGormGroupRepository(db), students, contracts, enrollment.NewMutexCohortLocker(), nil)
	health := handler.NewHealthHandler(pingFunc(func() error { return nil }))

	h := Handlers{
		Payme:       handler.NewPaymeHandler(gateway.NewPaymeService(gateway.PaymeConfig{Key: paymeKey}, contracts, txs, scope, nil), nil),
		Click:       handler.NewClickHandler(gateway.NewClickService(gateway.ClickConfig{ServiceID: "1", SecretKey: "s"}, students, contracts, txs, scope, nil), nil),
		Gate:        handler.NewGateHandler(access.NewGateService(students, contracts, txs, persistence.NewGormGateLogRepository(db), time.UTC, nil), nil),
		Contract:    handler.NewContractHandler(allocator, nil),
		Debt:        handler.NewDebtHandler(ledger.NewDebtService(students, contracts, txs, time.UTC, nil), nil),
		Transaction: handler.NewTransactionHandler(ledger.NewLedgerService(scope, txs, nil), nil),
		Health:      health,
	}

	jwtService := auth.NewJWTService(config.JWTConfig{Secret: "router-test-secret-of-32-chars!!", Issuer: "academy-test"})
	issued, err := jwtService.IssueToken(uuid.New(), "desk", "operator")
	require.NoError(t, err)

	engine, err := NewEngine(Config{
		ServiceName:     "academy-test",
		CORS:            middleware.DefaultCORSConfig(),
		MaxBodySize:     1 << 20,
		Tokens:          jwtService,
		GateDeviceToken: deviceToken,
		GateLimiter:     limiter,
	}, h)
	require.NoError(t, err)

	return &testServer{engine: engine, db: db, token: issued.AccessToken, health: health}
}

func (s *testServer) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Do(t, s.engine, method, target, body, headers)
}

func (s *testServer) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestNewEngine_HealthProbes(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.health.AddCheck("redis", func(context.Context) error { return errors.New("down") })
	w = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	checks := decode(t, w)["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "error", checks["redis"])
}

func TestNewEngine_OperatorAPIRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	group := testutil.SeedGroup(t, s.db, "A", 2020, 3, 2025)
	target := "/api/v1/contracts/next?group_id=" + group.ID.String() + "&birth_year=2020&archive_year=2025"

	w := s.do(t, http.MethodGet, target, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, target, "", s.bearer())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "NA12020", data["contract_number"])
}

func TestNewEngine_GateAdmit(t *testing.T) {
	t.Run("device token is required", func(t *testing.T) {
		s := newTestServer(t, nil)
		w := s.do(t, http.MethodPost, "/gate/admit", `{"face_id":"x"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = s.do(t, http.MethodPost, "/gate/admit", `{"face_id":"x"}`, s.bearer())
		assert.Equal(t, http.StatusUnauthorized, w.Code, "operator tokens do not open the gate")
	})

	t.Run("unknown face is a denied decision", func(t *testing.T) {
		s := newTestServer(t, nil)
		w := s.do(t, http.MethodPost, "/gate/admit", `{"face_id":"stranger"}`,
			map[string]string{middleware.DeviceTokenHeader: deviceToken})
		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]any)
		assert.Equal(t, false, data["allowed"])
		assert.Equal(t, "not found", data["reason"])
	})

	t.Run("rate limited per client", func(t *testing.T) {
		s := newTestServer(t, middleware.NewRateLimiter(1, time.Minute))
		headers := map[string]string{middleware.DeviceTokenHeader: deviceToken}

		assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/gate/admit", `{"face_id":"a"}`, headers).Code)
		assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, "/gate/admit", `{"face_id":"a"}`, headers).Code)
	})
}

func TestNewEngine_GatewaysAnswer200(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/payme", `{"id":1,"method":"CheckPerformTransaction","params":{}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rpcErr := decode(t, w)["error"].(map[string]any)
	assert.EqualValues(t, gateway.CodeInvalidAuthorization, rpcErr["code"])

	w = s.do(t, http.MethodPost, "/click", `not json`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, gateway.ClickBadRequest, decode(t, w)["error"])
}

func TestNewEngine_Routes(t *testing.T) {
	s := newTestServer(t, nil)

	registered := make(map[string]bool)
	for _, r := range s.engine.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"POST /payme",
		"POST /click",
		"POST /gate/admit",
		"GET /health",
		"GET /ready",
		"GET /api/v1/contracts/available",
		"GET /api/v1/contracts/next",
		"POST /api/v1/contracts/validate",
		"POST /api/v1/contracts",
		"GET /api/v1/contracts/:id",
		"GET /api/v1/contracts/by-number/:number/months",
		"DELETE /api/v1/contracts/:id",
		"POST /api/v1/contracts/:id/terminate",
		"POST /api/v1/contracts/:id/archive",
		"GET /api/v1/groups/:id/full",
		"POST /api/v1/archive/:year",
		"GET /api/v1/students/:id/debt",
		"GET /api/v1/students/:id/debt/report",
		"GET /api/v1/reports/debtors",
		"POST /api/v1/transactions/manual",
		"POST /api/v1/transactions/unassigned",
		"GET /api/v1/transactions/:id",
		"POST /api/v1/transactions/:id/assign",
		"POST /api/v1/transactions/:id/cancel",
		"GET /api/v1/gate/logs",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
}

func TestDomainGroup(t *testing.T) {
	engine := gin.New()
	var order []string

	g := NewDomainGroup("reports", "/reports").
		Use(func(c *gin.Context) { order = append(order, "group"); c.Next() }).
		GET("/debtors", func(c *gin.Context) { order = append(order, "handler"); c.Status(http.StatusOK) })
	assert.Equal(t, "reports", g.Name())
	assert.Equal(t, "/reports", g.Prefix())

	r := NewRouter(engine,
		WithAPIVersion("v2"),
		WithAPIMiddleware(func(c *gin.Context) { order = append(order, "api"); c.Next() }))
	r.Register(g).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/reports/debtors", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"api", "group", "handler"}, order)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/debtors", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

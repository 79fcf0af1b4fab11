package router

import (
	"fmt"
	"net/http"

	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/interfaces/http/handler"
	"github.com/academy/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar registers a set of routes on a group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router mounts the operator API under /api/<version>
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAPIMiddleware adds middleware applied to every versioned route
func WithAPIMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be mounted by Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup mounts every registrar under the versioned API group
func (r *Router) Setup() {
	api := r.engine.Group("/api/"+r.apiVersion, r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup collects the routes of one area of the API
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(mw ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, mw...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodDelete, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix, dg.middleware...)
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Handlers are the HTTP handlers the engine routes to
type Handlers struct {
	Payme       *handler.PaymeHandler
	Click       *handler.ClickHandler
	Gate        *handler.GateHandler
	Contract    *handler.ContractHandler
	Debt        *handler.DebtHandler
	Transaction *handler.TransactionHandler
	Health      *handler.HealthHandler
}

// Config carries what the engine needs besides handlers
type Config struct {
	ServiceName     string
	TracingEnabled  bool
	CORS            middleware.CORSConfig
	MaxBodySize     int64
	TrustedProxies  []string
	Tokens          middleware.TokenValidator
	GateDeviceToken string
	// GateLimiter is optional; nil leaves the turnstile unthrottled
	GateLimiter *middleware.RateLimiter
	// Meter is optional; nil disables request counting
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewEngine builds the gin engine with the global middleware chain and every route.
// Gateway callbacks and the turnstile live outside /api because they carry their
// own credentials; the operator API requires a JWT.
func NewEngine(cfg Config, h Handlers) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}

	httpMetrics, err := middleware.HTTPMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("create http metrics: %w", err)
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		middleware.Tracing(cfg.ServiceName, cfg.TracingEnabled),
		middleware.SpanEnricher(),
		logger.GinMiddleware(log),
		httpMetrics,
		middleware.Secure(),
		middleware.CORSWithConfig(cfg.CORS),
		middleware.BodyLimit(cfg.MaxBodySize),
	)

	engine.GET("/health", h.Health.Health)
	engine.GET("/ready", h.Health.Ready)

	engine.POST("/payme", h.Payme.Handle)
	engine.POST("/click", h.Click.Handle)

	gate := []gin.HandlerFunc{middleware.DeviceToken(cfg.GateDeviceToken)}
	if cfg.GateLimiter != nil {
		gate = append(gate, middleware.RateLimit(cfg.GateLimiter))
	}
	engine.POST("/gate/admit", append(gate, h.Gate.Admit)...)

	r := NewRouter(engine, WithAPIMiddleware(middleware.JWTAuth(cfg.Tokens, log)))
	r.Register(contractRoutes(h.Contract))
	r.Register(NewDomainGroup("groups", "/groups").
		GET("/:id/full", h.Contract.IsGroupFull))
	r.Register(NewDomainGroup("archive", "/archive").
		POST("/:year", h.Contract.ArchiveYear))
	r.Register(NewDomainGroup("students", "/students").
		GET("/:id/debt", h.Debt.Snapshot).
		GET("/:id/debt/report", h.Debt.Report))
	r.Register(NewDomainGroup("reports", "/reports").
		GET("/debtors", h.Debt.Debtors))
	r.Register(transactionRoutes(h.Transaction))
	r.Register(NewDomainGroup("gate", "/gate").
		GET("/logs", h.Gate.ListLogs))
	r.Setup()

	return engine, nil
}

func contractRoutes(h *handler.ContractHandler) *DomainGroup {
	return NewDomainGroup("contracts", "/contracts").
		GET("/available", h.ListAvailable).
		GET("/next", h.NextAvailable).
		POST("/validate", h.Validate).
		POST("", h.Allocate).
		GET("/by-number/:number/months", h.PaymentMonths).
		GET("/:id", h.Get).
		DELETE("/:id", h.Delete).
		POST("/:id/terminate", h.Terminate).
		POST("/:id/archive", h.Archive)
}

func transactionRoutes(h *handler.TransactionHandler) *DomainGroup {
	return NewDomainGroup("transactions", "/transactions").
		POST("/manual", h.RecordManual).
		POST("/unassigned", h.RecordUnassigned).
		GET("/:id", h.Get).
		POST("/:id/assign", h.Assign).
		POST("/:id/cancel", h.Cancel)
}

package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, router *gin.Engine, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	router.ServeHTTP(w, req)
	return w
}

func requestEntry(t *testing.T, recorded *observer.ObservedLogs) observer.LoggedEntry {
	t.Helper()
	entries := recorded.FilterMessage("HTTP Request").All()
	require.Len(t, entries, 1)
	return entries[0]
}

func TestGinMiddleware_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusConflict, zapcore.WarnLevel},
		{http.StatusServiceUnavailable, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			router := gin.New()
			router.Use(GinMiddleware(zap.New(core)))
			router.GET("/gate/logs", func(c *gin.Context) { c.Status(tt.status) })

			serve(t, router, http.MethodGet, "/gate/logs")
			assert.Equal(t, tt.level, requestEntry(t, recorded).Level)
		})
	}
}

func TestGinMiddleware_Fields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(string(RequestIDKey), "req-42")
		c.Next()
	})
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/students/:id/debt", func(c *gin.Context) {
		ctx, _ := WithUserID(c.Request.Context(), zap.NewNop(), "operator-7")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})

	serve(t, router, http.MethodGet, "/students/abc/debt?as_of=2025-10-01")

	fields := requestEntry(t, recorded).ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "/students/:id/debt", fields["route"])
	assert.Equal(t, "/students/abc/debt", fields["path"])
	assert.Equal(t, "as_of=2025-10-01", fields["query"])
	assert.Equal(t, "operator-7", fields["user_id"])
	for _, key := range []string{"status", "latency", "client_ip", "method"} {
		assert.Contains(t, fields, key)
	}
}

func TestGinMiddleware_Provider(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	router.POST("/payme", func(c *gin.Context) {
		ctx, _ := WithProvider(c.Request.Context(), zap.NewNop(), "payme")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})

	serve(t, router, http.MethodPost, "/payme")
	assert.Equal(t, "payme", requestEntry(t, recorded).ContextMap()["provider"])
}

func TestRecovery(t *testing.T) {
	core, recorded := observer.New(zapcore.ErrorLevel)
	router := gin.New()
	router.Use(Recovery(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	var w *httptest.ResponseRecorder
	assert.NotPanics(t, func() {
		w = serve(t, router, http.MethodGet, "/panic")
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"ERR_INTERNAL"`)
	assert.NotContains(t, w.Body.String(), "boom")

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "Panic recovered", recorded.All()[0].Message)
}

func TestGetGinLogger(t *testing.T) {
	t.Run("inside the middleware", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		router := gin.New()
		router.Use(GinMiddleware(zap.New(core)))
		router.GET("/x", func(c *gin.Context) {
			GetGinLogger(c).Info("handler line")
			c.Status(http.StatusOK)
		})

		serve(t, router, http.MethodGet, "/x")
		lines := recorded.FilterMessage("handler line").All()
		require.Len(t, lines, 1)
		assert.Equal(t, "/x", lines[0].ContextMap()["path"])
	})

	t.Run("without the middleware", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
		l := GetGinLogger(c)
		require.NotNil(t, l)
		assert.NotPanics(t, func() { l.Info("dropped") })
	})
}

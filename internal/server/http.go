package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	khttp "github.com/go-kratos/kratos/v2/transport/http"

	"reelguard/internal/conf"
	"reelguard/internal/service"
)

const (
	operationAnalyze = "/reelguard.v1.Analysis/Analyze"
	operationHealth  = "/reelguard.v1.Analysis/Health"

	// a video runs through transcription and every classifier in one request
	defaultTimeout = 10 * time.Minute
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.AnalysisService, logger log.Logger) *khttp.Server {
	opts := []khttp.ServerOption{
		khttp.Middleware(
			recovery.Recovery(),
			logging.Server(logger),
		),
		khttp.Filter(corsFilter),
		khttp.Timeout(defaultTimeout),
	}
	if hc := c.GetHTTP(); hc != nil {
		if hc.Network != "" {
			opts = append(opts, khttp.Network(hc.Network))
		}
		if hc.Addr != "" {
			opts = append(opts, khttp.Address(hc.Addr))
		}
		if d := hc.Timeout.AsDuration(); d > 0 {
			opts = append(opts, khttp.Timeout(d))
		}
	}
	srv := khttp.NewServer(opts...)

	r := srv.Route("/")
	r.POST("/analyze", withMiddleware(operationAnalyze, svc.Analyze))
	r.GET("/healthz", withMiddleware(operationHealth, health))
	return srv
}

// withMiddleware runs h inside the server middleware chain, which kratos only
// applies to route handlers that opt in.
func withMiddleware(operation string, h khttp.HandlerFunc) khttp.HandlerFunc {
	return func(ctx khttp.Context) error {
		khttp.SetOperation(ctx, operation)
		next := ctx.Middleware(func(context.Context, any) (any, error) {
			return nil, h(ctx)
		})
		_, err := next(ctx, ctx.Request())
		return err
	}
}

func health(ctx khttp.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// corsFilter allows any origin and answers preflight requests directly.
func corsFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		} else {
			h.Set("Access-Control-Allow-Headers", "*")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

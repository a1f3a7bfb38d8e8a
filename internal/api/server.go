package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/observability/metrics"
	"RiftBeacon/internal/protocol"
	"RiftBeacon/pkg/logger"
)

// EventQuery 是事件查询接口依赖的只读存储。
type EventQuery interface {
	ListLatest(ctx context.Context, limit int) ([]events.Event, error)
	ListBySubject(ctx context.Context, subject string, limit int) ([]events.Event, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr         string
	protocol     *protocol.Protocol
	events       EventQuery
	metrics      *metrics.Metrics
	authConfig   auth.MiddlewareConfig
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithEventQuery 启用 /api/v1/events。
func WithEventQuery(q EventQuery) Option {
	return func(s *Server) { s.events = q }
}

// WithMetrics 启用请求指标与 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAuth 配置身份认证中间件。
func WithAuth(cfg auth.MiddlewareConfig) Option {
	return func(s *Server) { s.authConfig = cfg }
}

// WithTimeouts 设置 HTTP 读写超时。
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, p *protocol.Protocol, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		protocol:     p,
		authConfig:   auth.MiddlewareConfig{Mode: auth.ModeDisabled},
		readTimeout:  15 * time.Second,
		writeTimeout: 15 * time.Second,
		logger:       logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/sessions", s.handleStartChallenge).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/response", s.handleSubmitResponse).Methods(http.MethodPost)

	v1.HandleFunc("/scores", s.handleInitializeScore).Methods(http.MethodPost)
	v1.HandleFunc("/scores/batch", s.handleBatchUpdate).Methods(http.MethodPost)
	v1.HandleFunc("/scores/{address}", s.handleGetScore).Methods(http.MethodGet)
	v1.HandleFunc("/scores/{address}/delta", s.handleUpdateScore).Methods(http.MethodPost)
	v1.HandleFunc("/scores/{address}/decay", s.handleApplyDecay).Methods(http.MethodPost)

	v1.HandleFunc("/penalties", s.handleApplyPenalty).Methods(http.MethodPost)
	v1.HandleFunc("/penalties/{address}", s.handleGetPenalty).Methods(http.MethodGet)
	v1.HandleFunc("/blacklist/{address}", s.handleRemoveBlacklist).Methods(http.MethodDelete)

	v1.HandleFunc("/nullifiers/{token}", s.handleGetNullifier).Methods(http.MethodGet)

	v1.HandleFunc("/attestations", s.handleRegisterAttestation).Methods(http.MethodPost)
	v1.HandleFunc("/attestations/{hash}", s.handleGetAttestation).Methods(http.MethodGet)
	v1.HandleFunc("/attestations/{hash}", s.handleRevokeAttestation).Methods(http.MethodDelete)

	v1.HandleFunc("/commitments", s.handleRegisterCommitment).Methods(http.MethodPost)
	v1.HandleFunc("/proofs/verify", s.handleVerifyProof).Methods(http.MethodPost)

	v1.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "ROUTE_NOT_FOUND", Message: "route not found"})
	})

	authCfg := s.authConfig
	public := map[string]bool{"/healthz": true, "/metrics": true}
	for path := range authCfg.Public {
		public[path] = true
	}
	authCfg.Public = public
	r.Use(s.instrument, auth.Middleware(authCfg))
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 以路由模板为标签记录请求指标。
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveHTTPRequest(route, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "SHUTTING_DOWN", Message: "服务已关闭"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

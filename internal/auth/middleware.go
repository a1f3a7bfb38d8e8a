package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	loggerpkg "RiftBeacon/pkg/logger"
)

// CallerHeader carries the caller address when authentication is disabled.
const CallerHeader = "X-Caller-Address"

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	Mode   Mode
	Tokens *TokenManager
	// Public 列出无需认证即可访问的路径。
	Public map[string]bool
	Audit  *slog.Logger
}

// Middleware 返回一个 HTTP 中间件，解析调用者身份并写入请求上下文。
// 能力检查由协议组件完成，中间件只负责确认身份。
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	audit := cfg.Audit
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := audit
			if logger == nil {
				logger = loggerpkg.Audit()
			}
			if cfg.Public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			caller, err := resolveCaller(cfg, r)
			if err != nil {
				status := http.StatusUnauthorized
				writeAuthError(w, status, err)
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithCaller(r.Context(), caller)))
			logger.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"caller", caller.Hex(),
			)
		})
	}
}

func resolveCaller(cfg MiddlewareConfig, r *http.Request) (common.Address, error) {
	if cfg.Mode == ModeDisabled || cfg.Mode == "" {
		raw := r.Header.Get(CallerHeader)
		if !common.IsHexAddress(raw) {
			return common.Address{}, ErrMissingToken
		}
		return common.HexToAddress(raw), nil
	}
	if cfg.Tokens == nil {
		return common.Address{}, ErrInvalidToken
	}
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return common.Address{}, err
	}
	return cfg.Tokens.Verify(token)
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	code := "UNAUTHENTICATED"
	if err == ErrMissingToken {
		code = "MISSING_TOKEN"
	}
	_, _ = w.Write([]byte(`{"code":"` + code + `","message":"` + http.StatusText(status) + `"}`))
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

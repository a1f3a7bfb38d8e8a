package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	xerrors "RiftBeacon/internal/errors"
)

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// statusFor 将错误分类映射为 HTTP 状态码。
func statusFor(category xerrors.Category) int {
	switch category {
	case xerrors.CategoryAuthorization, xerrors.CategoryIdentity:
		return http.StatusForbidden
	case xerrors.CategoryValidation:
		return http.StatusBadRequest
	case xerrors.CategoryNotFound:
		return http.StatusNotFound
	case xerrors.CategoryConflict:
		return http.StatusConflict
	case xerrors.CategoryTemporal:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	attr := xerrors.AttributesOf(code)
	status := statusFor(attr.Category)
	if code == xerrors.CodeTimeout {
		status = http.StatusServiceUnavailable
	}

	body := errorBody{Code: string(code), Message: attr.Message, Retryable: attr.Retryable}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Metadata = e.Metadata()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.Any("error", err))
		body.Message = attr.Message
		body.Metadata = nil
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: string(xerrors.CodeInvalidArgument), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

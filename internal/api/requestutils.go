package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"paperplane/internal/assembly"
	"paperplane/internal/service"
	"paperplane/internal/upload"
)

const maxJSONBodyBytes = 64 * 1024

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type envelope struct {
	Data any `json:"data"`
}

// apiError 是 4xx/5xx 响应体中的结构化错误。
type apiError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, errorEnvelope{Error: e})
}

func badRequest(w http.ResponseWriter, field, code, message string) {
	writeError(w, http.StatusBadRequest, apiError{Field: field, Code: code, Message: message})
}

// classify 把服务层错误映射为状态码与错误体；idField 是请求里承载句柄 id 的字段名。
func classify(err error, idField string) (int, apiError) {
	switch {
	case errors.Is(err, upload.ErrInvalidMimeType):
		return http.StatusBadRequest, apiError{"mimeType", "invalid_mime_type", "mime type has no known file extension"}
	case errors.Is(err, upload.ErrDisallowedExtension):
		return http.StatusForbidden, apiError{"mimeType", "disallowed_extension", "file extension is not allowed for this domain"}
	case errors.Is(err, upload.ErrDuplicateFilename):
		return http.StatusConflict, apiError{"filename", "duplicate_filename", "a file with this name already exists"}
	case errors.Is(err, upload.ErrNotFound):
		return http.StatusNotFound, apiError{idField, "not_found", "partial upload not found"}
	case errors.Is(err, upload.ErrNotOpen):
		return http.StatusConflict, apiError{idField, "not_open", "partial upload no longer accepts chunks"}
	case errors.Is(err, upload.ErrMissingChunks):
		return http.StatusBadRequest, apiError{idField, "missing_chunks", "no chunks have been uploaded"}
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge, apiError{"file", "quota_exceeded", "storage quota exceeded"}
	case errors.Is(err, service.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge, apiError{"file", "chunk_too_large", "chunk exceeds size limit"}
	case errors.Is(err, service.ErrEmptyFile):
		return http.StatusBadRequest, apiError{"file", "empty_file", "file must not be empty"}
	case errors.Is(err, service.ErrTenantNotFound):
		return http.StatusForbidden, apiError{"", "unknown_tenant", "tenant is not registered"}
	case errors.Is(err, service.ErrFileNotFound):
		return http.StatusNotFound, apiError{"id", "not_found", "file not found"}
	case errors.Is(err, service.ErrPasswordRequired):
		return http.StatusUnauthorized, apiError{"password", "password_required", "a valid password is required"}
	case errors.Is(err, assembly.ErrQueueFull), errors.Is(err, assembly.ErrPoolClosed):
		return http.StatusServiceUnavailable, apiError{"", "busy", "server is busy, retry later"}
	default:
		return http.StatusInternalServerError, apiError{"", "internal", "internal server error"}
	}
}

// writeServiceError 写出错误响应；5xx 记录完整错误，响应体只含通用信息。
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op, idField string, err error) {
	status, body := classify(err, idField)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "op", op, "error", err)
	}
	writeError(w, status, body)
}

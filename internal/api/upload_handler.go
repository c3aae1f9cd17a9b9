package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"paperplane/internal/middleware"
	"paperplane/internal/service"
	"paperplane/internal/upload"

	"github.com/go-chi/chi/v5"
)

// multipartOverhead 覆盖分片请求中除文件内容外的表单开销。
const multipartOverhead int64 = 1 << 20

// UploadHandler 提供分片上传的三个端点。
type UploadHandler struct {
	service       *service.UploadService
	maxChunkBytes int64
	logger        *slog.Logger
}

func NewUploadHandler(s *service.UploadService, maxChunkBytes int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{service: s, maxChunkBytes: maxChunkBytes, logger: logger}
}

func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/upload/partial", func(r chi.Router) {
		r.Post("/create", h.Create)
		r.Post("/chunk", h.UploadChunk)
		r.Post("/complete", h.Complete)
	})
}

type createRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Visible  *bool  `json:"visible"`
	Password string `json:"password"`
}

type createResponse struct {
	ID string `json:"id"`
}

// Create 分配一个新的分片上传句柄。
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "", "invalid_body", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.MimeType) == "" {
		badRequest(w, "mimeType", "required", "mimeType is required")
		return
	}

	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}

	id, err := h.service.Create(r.Context(), middleware.GetTenantID(r.Context()), upload.CreateOptions{
		Filename: req.Filename,
		MimeType: req.MimeType,
		Visible:  visible,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create partial upload", "id", err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{ID: id})
}

// UploadChunk 接收 multipart 表单中的一个分片：字段 file 与 partial-file-id。
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		badRequest(w, "file", "required", "request body is empty")
		return
	}
	if h.maxChunkBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes+multipartOverhead)
	}
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, r, h.logger, "upload chunk", "partial-file-id", service.ErrChunkTooLarge)
			return
		}
		badRequest(w, "file", "invalid_form", "invalid multipart form: "+err.Error())
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	uploadID := strings.TrimSpace(r.FormValue("partial-file-id"))
	if uploadID == "" {
		badRequest(w, "partial-file-id", "required", "partial-file-id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file", "required", "file field is required")
		return
	}
	defer file.Close()

	size, err := determineFileSize(file, header)
	if err != nil {
		badRequest(w, "file", "invalid_file", err.Error())
		return
	}
	if size <= 0 {
		writeServiceError(w, r, h.logger, "upload chunk", "partial-file-id", service.ErrEmptyFile)
		return
	}

	if _, err := h.service.UploadChunk(r.Context(), middleware.GetTenantID(r.Context()), uploadID, file, size); err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			badRequest(w, "partial-file-id", "invalid_id", "unknown partial-file-id")
			return
		}
		writeServiceError(w, r, h.logger, "upload chunk", "partial-file-id", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completeRequest struct {
	ID string `json:"id"`
}

type completeResponse struct {
	Status upload.Status `json:"status"`
	URL    *string       `json:"url"`
}

// Complete 触发组装或返回当前进度。客户端应轮询直到 url 非空。
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "", "invalid_body", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		badRequest(w, "id", "required", "id is required")
		return
	}

	res, err := h.service.Complete(r.Context(), middleware.GetTenantID(r.Context()), strings.TrimSpace(req.ID))
	if err != nil {
		writeServiceError(w, r, h.logger, "complete partial upload", "id", err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{Status: res.Status, URL: res.URL})
}

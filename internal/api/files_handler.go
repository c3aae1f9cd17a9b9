package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paperplane/internal/middleware"
	"paperplane/internal/mimeext"
	"paperplane/internal/repository"
	"paperplane/internal/service"

	"github.com/go-chi/chi/v5"
)

const (
	multipartMemoryBudget int64 = 16 * 1024 * 1024
	authCookiePrefix            = "pp_auth_"
)

// FileHandler 提供最终文件的上传、列表、配额与公开访问端点。
type FileHandler struct {
	service       *service.FileService
	maxUploadSize int64
	secureCookies bool
	logger        *slog.Logger
}

func NewFileHandler(s *service.FileService, maxUploadSize int64, secureCookies bool, logger *slog.Logger) *FileHandler {
	return &FileHandler{service: s, maxUploadSize: maxUploadSize, secureCookies: secureCookies, logger: logger}
}

// RegisterRoutes 注册需要鉴权的管理端点。
func (h *FileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/files", func(r chi.Router) {
		r.Get("/", h.ListFiles)
		r.Post("/", h.CreateFile)
	})
	r.Get("/quota", h.Quota)
}

// RegisterPublicRoutes 注册按域名对外提供文件内容的端点。
func (h *FileHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/{id}", h.ServeFile)
}

// CreateFile 接受 multipart/form-data 单请求上传。
func (h *FileHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		badRequest(w, "file", "required", "request body is empty")
		return
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartMemoryBudget)
	}
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		badRequest(w, "file", "invalid_form", fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file", "required", "file field is required")
		return
	}
	defer file.Close()

	sizeBytes, err := determineFileSize(file, header)
	if err != nil {
		badRequest(w, "file", "invalid_file", err.Error())
		return
	}
	if h.maxUploadSize > 0 && sizeBytes > h.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, apiError{"file", "file_too_large", "file exceeds size limit"})
		return
	}

	mimeType := strings.TrimSpace(r.FormValue("mimeType"))
	if mimeType == "" {
		if mimeType, err = resolveMimeType(header, file); err != nil {
			badRequest(w, "file", "invalid_file", err.Error())
			return
		}
	}

	filename := header.Filename
	if override := strings.TrimSpace(r.FormValue("filename")); override != "" {
		filename = override
	}

	visible := true
	if raw := strings.TrimSpace(r.FormValue("visible")); raw != "" {
		if visible, err = strconv.ParseBool(raw); err != nil {
			badRequest(w, "visible", "invalid", "visible must be a boolean")
			return
		}
	}

	record, err := h.service.Upload(r.Context(), middleware.GetTenantID(r.Context()), service.UploadFileInput{
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: sizeBytes,
		Visible:   visible,
		Password:  r.FormValue("password"),
		Reader:    file,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "upload file", "id", err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: record})
}

// ListFiles 返回租户文件，默认不含隐藏文件。
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	params := repository.ListFilesParams{}
	query := r.URL.Query()

	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		params.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		params.Offset = offset
	}
	if include, err := strconv.ParseBool(query.Get("include_hidden")); err == nil {
		params.IncludeHidden = include
	}

	files, err := h.service.ListFiles(r.Context(), middleware.GetTenantID(r.Context()), params)
	if err != nil {
		writeServiceError(w, r, h.logger, "list files", "id", err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: files})
}

type quotaResponse struct {
	Unlimited bool   `json:"unlimited"`
	Remaining *int64 `json:"remaining"`
	Used      int64  `json:"used"`
}

// Quota 返回租户的已用与剩余存储。
func (h *FileHandler) Quota(w http.ResponseWriter, r *http.Request) {
	used, budget, err := h.service.Usage(r.Context(), middleware.GetTenantID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "quota", "", err)
		return
	}

	resp := quotaResponse{Unlimited: budget.Unlimited, Used: used}
	if !budget.Unlimited {
		remaining := budget.Bytes
		resp.Remaining = &remaining
	}
	writeJSON(w, http.StatusOK, envelope{Data: resp})
}

// ServeFile 按 Host 解析租户并返回文件内容。受保护文件接受 ?password= 或访问密钥 cookie。
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		badRequest(w, "id", "required", "file id is required")
		return
	}

	creds := service.Credentials{Password: r.URL.Query().Get("password")}
	if cookie, err := r.Cookie(authCookiePrefix + id); err == nil {
		creds.Secret = cookie.Value
	}

	file, err := h.service.ResolvePublic(r.Context(), r.Host, id, creds)
	if err != nil {
		writeServiceError(w, r, h.logger, "serve file", "id", err)
		return
	}

	content, err := h.service.Open(r.Context(), file)
	if err != nil {
		writeServiceError(w, r, h.logger, "open file content", "id", err)
		return
	}
	defer content.Close()

	if file.Protected() && creds.Password != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     authCookiePrefix + id,
			Value:    file.AuthSecret,
			Path:     "/",
			Expires:  time.Now().Add(30 * 24 * time.Hour),
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.ID))
	w.Header().Set("Content-Length", strconv.FormatInt(file.SizeBytes, 10))

	if _, err := io.Copy(w, content); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		return
	}
}

func determineFileSize(file multipart.File, header *multipart.FileHeader) (int64, error) {
	if header != nil && header.Size > 0 {
		return header.Size, nil
	}

	seeker, ok := file.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("cannot determine file size")
	}

	size, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("measure file: %w", err)
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind file: %w", err)
	}

	return size, nil
}

// resolveMimeType 优先使用分段声明的类型；缺省或为通用二进制类型时按内容嗅探。
func resolveMimeType(header *multipart.FileHeader, file multipart.File) (string, error) {
	if header != nil {
		if value := header.Header.Get("Content-Type"); value != "" && value != "application/octet-stream" {
			return value, nil
		}
	}

	buf := make([]byte, 3072)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("detect mime: %w", err)
	}

	if err := rewindFile(file); err != nil {
		return "", err
	}
	return mimeext.Detect(buf[:n]), nil
}

func rewindFile(file multipart.File) error {
	seeker, ok := file.(io.Seeker)
	if !ok {
		return fmt.Errorf("upload reader is not seekable")
	}
	_, err := seeker.Seek(0, io.SeekStart)
	return err
}

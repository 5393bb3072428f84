// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"study-forge-api/internal/application/pipeline"
	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/interfaces/http/dto"
)

// SessionService 会话提交与查询
type SessionService interface {
	Submit(ctx context.Context, sessionID string, files []entity.InputFile, userID string) (*pipeline.SubmitResult, error)
	GetStatus(ctx context.Context, sessionID string) (*pipeline.StatusView, error)
	GetError(ctx context.Context, sessionID string) (*entity.ErrorRecord, error)
	GetResults(ctx context.Context, sessionID string) ([]*entity.StudyItem, error)
}

// SessionHandler 会话处理器
type SessionHandler struct {
	svc            SessionService
	maxUploadBytes int64
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(svc SessionService, maxUploadBytes int64) *SessionHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &SessionHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// Submit 提交会话
// @Summary 提交上传会话
// @Tags Sessions
// @Accept multipart/form-data
// @Param sid path string true "会话 ID"
// @Param files formData file true "上传文件（可多个）"
// @Success 202 {object} dto.Response[pipeline.SubmitResult]
// @Failure 409 {object} dto.Response[pipeline.SubmitResult]
// @Router /v1/sessions/{sid}/submit [post]
func (h *SessionHandler) Submit(c *gin.Context) {
	sessionID := c.Param("sid")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			dto.Error(c, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		dto.BadRequest(c, "multipart form with files is required")
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		dto.BadRequest(c, "at least one file is required")
		return
	}
	files := make([]entity.InputFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh)
		if err != nil {
			dto.BadRequest(c, "failed to read "+fh.Filename)
			return
		}
		files = append(files, f)
	}

	res, err := h.svc.Submit(c.Request.Context(), sessionID, files, c.GetString("user_id"))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	if !res.Accepted {
		dto.Rejected(c, res.Reason, res)
		return
	}
	dto.Accepted(c, res)
}

func readUpload(fh *multipart.FileHeader) (entity.InputFile, error) {
	f, err := fh.Open()
	if err != nil {
		return entity.InputFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return entity.InputFile{}, err
	}
	return entity.InputFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Status 查询进度
// @Summary 查询会话进度
// @Tags Sessions
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[pipeline.StatusView]
// @Router /v1/sessions/{sid}/status [get]
func (h *SessionHandler) Status(c *gin.Context) {
	view, err := h.svc.GetStatus(c.Request.Context(), c.Param("sid"))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, view)
}

// Error 查询错误记录，没有错误时 data 为空
// @Summary 查询会话错误
// @Tags Sessions
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.ErrorRecordResponse]
// @Router /v1/sessions/{sid}/error [get]
func (h *SessionHandler) Error(c *gin.Context) {
	sessionID := c.Param("sid")
	rec, err := h.svc.GetError(c.Request.Context(), sessionID)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	if rec == nil {
		dto.Success[*dto.ErrorRecordResponse](c, nil)
		return
	}
	dto.Success(c, dto.NewErrorRecordResponse(sessionID, rec))
}

// Results 查询生成结果
// @Summary 查询会话结果
// @Tags Sessions
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.StudySetResponse]
// @Router /v1/sessions/{sid}/results [get]
func (h *SessionHandler) Results(c *gin.Context) {
	sessionID := c.Param("sid")
	items, err := h.svc.GetResults(c.Request.Context(), sessionID)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, dto.NewStudySetResponse(sessionID, items))
}

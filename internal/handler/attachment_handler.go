package handler

import (
	"context"
	"fmt"
	"net/http"

	"kindred-chat/internal/storage"
	"kindred-chat/internal/transport/httpdto"
	kindred_errors "kindred-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// MaxAttachmentSize caps presigned uploads.
const MaxAttachmentSize = 50 << 20

type UploadPresigner interface {
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (storage.Upload, error)
}

type AttachmentHandler struct {
	presigner UploadPresigner
}

func NewAttachmentHandler(presigner UploadPresigner) *AttachmentHandler {
	return &AttachmentHandler{presigner: presigner}
}

func (h *AttachmentHandler) Create(c *gin.Context) {
	var req httpdto.CreateAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "file_name, content_type and file_size are required")
		return
	}
	if req.FileSize <= 0 || req.FileSize > MaxAttachmentSize {
		fail(c, fmt.Errorf("%w: file_size must be between 1 and %d bytes", kindred_errors.ErrInvalidInput, MaxAttachmentSize))
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}

	key := storage.AttachmentKey(identity.ID, req.FileName)
	upload, err := h.presigner.PresignPut(c.Request.Context(), key, req.ContentType, req.FileSize)
	if err != nil {
		fail(c, fmt.Errorf("%w: presign upload: %v", kindred_errors.ErrNetworkFailure, err))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CreateAttachmentResponse{
		UploadURL: upload.UploadURL,
		Headers:   upload.Headers,
		ObjectURL: upload.ObjectURL,
		ExpiresAt: upload.ExpiresAt,
	}))
}

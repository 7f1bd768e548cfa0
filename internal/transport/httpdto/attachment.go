package httpdto

import "time"

// CreateAttachmentRequest is used for POST /v1/attachments
type CreateAttachmentRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
}

// CreateAttachmentResponse carries a presigned upload. Clients PUT the file to
// UploadURL and then reference ObjectURL in an attachment.
type CreateAttachmentResponse struct {
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ObjectURL string            `json:"object_url"`
	ExpiresAt time.Time         `json:"expires_at"`
}

package message

import (
	"errors"
	"strings"
)

var (
	ErrNotSender          = errors.New("only the sender may change this message")
	ErrWindowElapsed      = errors.New("message can no longer be changed")
	ErrInvalidAttachment  = errors.New("attachment kind must be image, video or document")
	ErrMissingAttachment  = errors.New("attachment url is required")
	ErrTooManyAttachments = errors.New("too many attachments")
)

// MaxAttachments caps attachments per message.
const MaxAttachments = 10

type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindVideo    AttachmentKind = "video"
	KindDocument AttachmentKind = "document"
)

func (k AttachmentKind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindDocument:
		return true
	}
	return false
}

func (k AttachmentKind) Label() string {
	switch k {
	case KindImage:
		return "Photo"
	case KindVideo:
		return "Video"
	default:
		return "Document"
	}
}

// Attachment is stored in order inside the message's attachments column.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	URL       string         `json:"url"`
	Filename  string         `json:"filename,omitempty"`
	Thumbnail string         `json:"thumbnail,omitempty"`
}

// ObjectKeyPrefix marks attachment URLs that point into the attachment bucket
// and must be presigned before they are handed to a client.
const ObjectKeyPrefix = "s3://"

func (a Attachment) IsObjectKey() bool {
	return strings.HasPrefix(a.URL, ObjectKeyPrefix)
}

// ObjectKey strips the scheme and bucket from an s3:// URL.
func (a Attachment) ObjectKey() string {
	rest := strings.TrimPrefix(a.URL, ObjectKeyPrefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return rest
}

func ValidateAttachments(items []Attachment) error {
	if len(items) > MaxAttachments {
		return ErrTooManyAttachments
	}
	for _, a := range items {
		if !a.Kind.Valid() {
			return ErrInvalidAttachment
		}
		if strings.TrimSpace(a.URL) == "" {
			return ErrMissingAttachment
		}
	}
	return nil
}

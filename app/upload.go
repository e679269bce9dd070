package app

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tristan-Hancock/maya-web-sub000/app/models"
)

// MaxAttachmentBytes bounds uploads before any quota check runs.
const MaxAttachmentBytes = 10 << 20

// allowedAttachmentTypes is the attachment content-type allow-list.
var allowedAttachmentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
	"image/png":       true,
	"image/jpeg":      true,
}

// ParseSendMessage resolves the two accepted body shapes of
// POST /chat/message — plain JSON, or a multipart form with an
// optional file part — into one request struct. Anything matching
// neither shape, an oversize file, or a disallowed content type is
// rejected here, before any state is touched.
func ParseSendMessage(c *gin.Context) (*models.SendMessageRequest, error) {
	contentType := c.ContentType()

	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		return parseMultipartMessage(c)
	case contentType == "application/json" || contentType == "":
		var req models.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, ValidationError{Field: "body", Detail: "malformed JSON body"}
		}
		return &req, nil
	default:
		return nil, ValidationError{Field: "body", Detail: "unsupported content type"}
	}
}

func parseMultipartMessage(c *gin.Context) (*models.SendMessageRequest, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, ValidationError{Field: "body", Detail: "malformed multipart body"}
	}

	req := &models.SendMessageRequest{
		Handle: firstFormValue(form.Value, "handle"),
		Text:   firstFormValue(form.Value, "text"),
	}

	files := form.File["file"]
	if len(files) == 0 {
		return req, nil
	}
	header := files[0]

	if header.Size > MaxAttachmentBytes {
		return nil, ValidationError{Field: "file", Detail: "attachment too large"}
	}
	declared := header.Header.Get("Content-Type")
	if !allowedAttachmentTypes[declared] {
		return nil, ValidationError{Field: "file", Detail: "unsupported attachment type"}
	}

	f, err := header.Open()
	if err != nil {
		return nil, ValidationError{Field: "file", Detail: "unreadable attachment"}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxAttachmentBytes+1))
	if err != nil {
		return nil, ValidationError{Field: "file", Detail: "unreadable attachment"}
	}
	if len(data) > MaxAttachmentBytes {
		return nil, ValidationError{Field: "file", Detail: "attachment too large"}
	}

	req.AttachmentName = header.Filename
	req.AttachmentType = declared
	req.AttachmentData = data
	return req, nil
}

func firstFormValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDataURL indicates an attachment data URL could not be parsed.
var ErrInvalidDataURL = errors.New("invalid data URL")

// Attachment is a user-supplied file kept in its browser-native data URL
// form for display, converted to an inline part for model calls.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	DataURL  string `json:"dataUrl"`
}

// NewAttachment wraps raw bytes as an attachment.
func NewAttachment(name, mimeType string, data []byte) Attachment {
	return Attachment{
		Name:     name,
		MIMEType: mimeType,
		DataURL:  fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
	}
}

// ToPart converts the attachment into an inline-data part.
func (a Attachment) ToPart() (Part, error) {
	data, err := a.Bytes()
	if err != nil {
		return Part{}, err
	}
	return Part{InlineData: &Blob{MIMEType: a.MIMEType, Data: data}}, nil
}

// Bytes decodes the attachment payload from its data URL.
func (a Attachment) Bytes() ([]byte, error) {
	_, payload, ok := strings.Cut(a.DataURL, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing comma separator", ErrInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, nil
}

// AttachmentFromBlob converts an inline blob arriving mid-stream (for
// example an image part in a model response) into an attachment.
func AttachmentFromBlob(name string, blob *Blob) Attachment {
	return NewAttachment(name, blob.MIMEType, blob.Data)
}

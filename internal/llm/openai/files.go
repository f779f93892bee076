package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
)

// UploadFile registers content with the provider for use by assistants and
// returns the provider file id.
func (c *Client) UploadFile(ctx context.Context, name string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", common.ValidationErrorf("cannot upload empty file %q", name)
	}
	mt := mimetype.Detect(content)
	if filepath.Ext(name) == "" {
		name += mt.Extension()
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("multipart purpose: %w", err)
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", mt.String())
	part, err := w.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("multipart file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("multipart write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("multipart close: %w", err)
	}

	raw, _, err := llm.Send(ctx, c.http, llm.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + "/files",
		Body:   &buf,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.cfg.APIKey,
			"Content-Type":  w.FormDataContentType(),
		},
	}, c.log)
	if err != nil {
		c.log.Error("llm.file.upload_failed", "name", name, "error", err)
		return "", err
	}
	var out idResponse
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", common.UpstreamProtocolErrorf("file upload returned no id")
	}
	c.log.Info("llm.file.uploaded", "file_id", out.ID, "name", name, "mime", mt.String(), "bytes", len(content))
	return out.ID, nil
}

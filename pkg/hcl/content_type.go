package hcl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
)

const (
	// ContentTypeHCL is the custom MIME type for HCL run documents
	ContentTypeHCL = "application/vnd.hcl"

	// ContentTypeJSON is the standard MIME type for JSON
	ContentTypeJSON = "application/json"
)

// DetectContentType determines if the content is JSON or HCL based on the
// Content-Type header and, failing that, on the body itself
func DetectContentType(r *http.Request) (string, error) {
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch mediaType {
			case ContentTypeHCL:
				return ContentTypeHCL, nil
			case ContentTypeJSON:
				return ContentTypeJSON, nil
			}
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	// Reset the body so it can be read again later
	r.Body = io.NopCloser(bytes.NewReader(body))

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return ContentTypeJSON, nil
	}
	if IsHCL(trimmed) {
		return ContentTypeHCL, nil
	}
	return ContentTypeJSON, nil
}

// DecodeRunRequest reads a run request body in either format. An empty
// body is a request for the default run.
func DecodeRunRequest(r *http.Request) (*pipeline.Request, error) {
	contentType, err := DetectContentType(r)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &pipeline.Request{}, nil
	}

	if contentType == ContentTypeHCL {
		return ParseRunRequest(body)
	}
	var req pipeline.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	req.Entities = normalizeCodes(req.Entities)
	return &req, nil
}

// IsHCLBasedOnExtension checks if the filename has an HCL extension
func IsHCLBasedOnExtension(filename string) bool {
	return strings.HasSuffix(filename, ".hcl") ||
		strings.HasSuffix(filename, ".tf") ||
		strings.HasSuffix(filename, ".tfvars")
}

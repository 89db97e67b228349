package providers

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
)

// DecodePayload accepts a base64 data URI (data:<mime>;base64,<data>) or bare
// base64 and returns the decoded bytes and the declared media type, if any.
func DecodePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	mediaType := ""
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("data uri: missing comma")
		}
		meta := payload[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("data uri: only base64 payloads are supported")
		}
		mediaType = strings.TrimSuffix(meta, ";base64")
		payload = payload[comma+1:]
	}
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("base64 decode: %w", err)
	}
	return data, mediaType, nil
}

// EncodeDataURI builds the data URI form used by the object store upload.
func EncodeDataURI(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// extensionFor picks a file extension for an object key.
func extensionFor(contentType string) string {
	switch contentType {
	case "image/svg+xml":
		return ".svg"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package imagegen

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/jeranaias/rigchat/internal/producer"
)

// jsonPayload is the structured response variant.
type jsonPayload struct {
	Images []string `json:"images"`
}

// Decode extracts image bytes from a successful response. A JSON content
// type, or a body starting with '{', selects the base64 variant; anything
// else must be raw image bytes.
func Decode(contentType string, body []byte) (*producer.Image, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &DecodeError{Reason: "response body is empty"}
	}
	if isJSON(contentType, body) {
		return decodeJSON(body)
	}
	return decodeRaw(contentType, body)
}

func isJSON(contentType string, body []byte) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))
}

func decodeJSON(body []byte) (*producer.Image, error) {
	var payload jsonPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON received from image API", Cause: err}
	}
	if len(payload.Images) == 0 || strings.TrimSpace(payload.Images[0]) == "" {
		return nil, &DecodeError{Reason: "no 'images' key with base64 string found in API response"}
	}

	encoded := strings.TrimSpace(payload.Images[0])
	// Accept data URIs such as "data:image/png;base64,...."
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some servers strip the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return nil, &DecodeError{Reason: "failed to decode base64 string", Cause: err}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "decoded image is empty"}
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}
	return &producer.Image{Data: data, ContentType: contentType}, nil
}

func decodeRaw(contentType string, body []byte) (*producer.Image, error) {
	sniffed := http.DetectContentType(body)
	if strings.HasPrefix(sniffed, "image/") {
		return &producer.Image{Data: body, ContentType: sniffed}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.HasPrefix(mediaType, "image/") {
		return &producer.Image{Data: body, ContentType: mediaType}, nil
	}
	return nil, &DecodeError{Reason: "response is neither JSON nor image data (" + sniffed + ")"}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package library

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// DecodeDataURL splits an RFC 2397 data URL into its media type and
// payload.
func DecodeDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data URL has no payload separator")
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta = m
		isBase64 = true
	}
	mediaType := meta
	if mediaType == "" {
		mediaType = "text/plain;charset=US-ASCII"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode data URL: %w", err)
		}
		return mediaType, data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return mediaType, []byte(text), nil
}

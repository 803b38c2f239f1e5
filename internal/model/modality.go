// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// Modality is the chat type. It decides which producer serves the chat and
// how its messages are stored. Values are persisted as integers.
type Modality int

const (
	ModalityText Modality = iota
	ModalityImage
)

// String returns the string representation of the modality.
func (m Modality) String() string {
	switch m {
	case ModalityText:
		return "text"
	case ModalityImage:
		return "image"
	default:
		return fmt.Sprintf("modality(%d)", int(m))
	}
}

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityText || m == ModalityImage
}

// ParseModality converts "text" or "image" (case-insensitive) to a Modality.
// An empty string parses as text.
func ParseModality(s string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return ModalityText, nil
	case "image":
		return ModalityImage, nil
	default:
		return ModalityText, fmt.Errorf("unknown modality %q (want text or image)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Modality) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid modality %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Modality) UnmarshalText(b []byte) error {
	parsed, err := ParseModality(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

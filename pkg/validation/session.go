// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// file paths, log fields, or calls into the external editing resource. Using
// these validators prevents path traversal and keeps resource-bound strings
// inside a known-safe alphabet.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// sessionNamePattern matches valid session names.
// Allows: letters, digits, then dots, hyphens and underscores.
// Max length: 64 characters.
var sessionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,63}$`)

// ValidateSessionName validates a caller-supplied session name.
//
// Valid names:
//   - 1-64 characters
//   - Letters a-z, A-Z and digits 0-9
//   - Dots (.), hyphens (-) and underscores (_) after the first character
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateSessionName(name); err != nil {
//	    return nil, fmt.Errorf("invalid session name: %w", err)
//	}
//	// Safe to use as a map key and log field
func ValidateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}

	if !sessionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid session name: %q (must be 1-64 alphanumeric chars, dots, hyphens, or underscores)", name)
	}

	return nil
}

// SanitizeSessionName normalizes and validates a session name.
// Returns the trimmed name if valid, or an error if invalid.
func SanitizeSessionName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateSessionName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

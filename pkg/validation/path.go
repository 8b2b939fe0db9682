// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// documentExtensions lists the file extensions the editing resource accepts
// for open and save operations.
var documentExtensions = map[string]bool{
	".hwp":  true,
	".hwpx": true,
	".docx": true,
	".odt":  true,
	".txt":  true,
}

// imageExtensions lists the file extensions accepted for image insertion.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
}

// ValidateDocumentPath validates a document file path before it is handed to
// the editing resource.
//
// Valid paths:
//   - Non-empty after trimming
//   - No parent-directory traversal (".." segments)
//   - No NUL bytes or newlines
//   - Extension from the document allowlist (.hwp, .hwpx, .docx, .odt, .txt)
//
// The path may be relative; it is cleaned but not resolved. Returns an error
// if the path is invalid.
//
// Example:
//
//	if err := validation.ValidateDocumentPath(path); err != nil {
//	    return nil, fmt.Errorf("invalid document path: %w", err)
//	}
//	// Safe to pass to open_document / save_document
func ValidateDocumentPath(path string) error {
	if err := validatePathShape(path); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !documentExtensions[ext] {
		return fmt.Errorf("unsupported document extension %q in %q", ext, path)
	}

	return nil
}

// ValidateImagePath validates an image file path before insertion.
// Same shape rules as ValidateDocumentPath with the image extension allowlist.
func ValidateImagePath(path string) error {
	if err := validatePathShape(path); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !imageExtensions[ext] {
		return fmt.Errorf("unsupported image extension %q in %q", ext, path)
	}

	return nil
}

func validatePathShape(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsAny(trimmed, "\x00\n\r") {
		return fmt.Errorf("path contains control characters")
	}

	clean := filepath.Clean(trimmed)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return fmt.Errorf("path traversal not allowed: %q", path)
	}

	return nil
}

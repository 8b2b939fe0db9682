package validation

import (
	"testing"
)

func TestValidateDocumentPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		// Valid paths
		{"simple hwp", "report.hwp", false},
		{"hwpx", "out/report.hwpx", false},
		{"docx nested", "docs/2025/q3.docx", false},
		{"absolute", "/tmp/scribe/report.odt", false},
		{"txt", "notes.txt", false},
		{"uppercase extension", "REPORT.HWP", false},

		// Invalid paths
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"traversal", "../secrets.hwp", true},
		{"embedded traversal", "docs/../../etc/passwd.hwp", true},
		{"nul byte", "report\x00.hwp", true},
		{"newline", "report\n.hwp", true},
		{"no extension", "report", true},
		{"wrong extension", "report.exe", true},
		{"image extension", "report.png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDocumentPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateImagePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"png", "logo.png", false},
		{"jpeg nested", "assets/photo.jpeg", false},
		{"document extension rejected", "report.hwp", true},
		{"traversal", "../../logo.png", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImagePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateImagePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

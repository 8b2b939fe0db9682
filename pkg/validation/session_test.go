package validation

import (
	"testing"
)

func TestValidateSessionName(t *testing.T) {
	tests := []struct {
		name    string
		session string
		wantErr bool
	}{
		// Valid names
		{"simple", "report", false},
		{"single char", "a", false},
		{"with digits", "batch42", false},
		{"with separators", "quarterly_report.v2-final", false},
		{"max length", "a123456789012345678901234567890123456789012345678901234567890123", false},

		// Invalid names
		{"empty", "", true},
		{"too long", "a1234567890123456789012345678901234567890123456789012345678901234", true},
		{"starts with dot", ".hidden", true},
		{"starts with hyphen", "-flag", true},
		{"path separator", "a/b", true},
		{"spaces", "my report", true},
		{"newline injection", "report\ndrop", true},
		{"traversal attempt", "../etc/passwd", true},
		{"unicode", "reportâ„¢", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionName(tt.session)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionName(%q) error = %v, wantErr %v", tt.session, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeSessionName(t *testing.T) {
	tests := []struct {
		name    string
		session string
		want    string
		wantErr bool
	}{
		{"passthrough", "report", "report", false},
		{"spaces trimmed", "  report  ", "report", false},
		{"invalid rejected", "bad name!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeSessionName(tt.session)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeSessionName(%q) error = %v, wantErr %v", tt.session, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeSessionName(%q) = %q, want %q", tt.session, got, tt.want)
			}
		})
	}
}


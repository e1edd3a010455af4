package chat

import (
	"strings"
	"testing"
)

func TestTitleFrom(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short text untouched", "hello", "hello"},
		{"exactly fifty runes", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"long text truncated", strings.Repeat("a", 80), strings.Repeat("a", 50)},
		{"multibyte truncation stays on rune boundary", strings.Repeat("课", 60), strings.Repeat("课", 50)},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFrom(tt.content); got != tt.want {
				t.Fatalf("TitleFrom(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleUser, RoleAssistant, RoleSystem} {
		if !ValidRole(role) {
			t.Fatalf("expected %q to be valid", role)
		}
	}
	if ValidRole("tool") || ValidRole("") {
		t.Fatal("unexpected role accepted")
	}
}

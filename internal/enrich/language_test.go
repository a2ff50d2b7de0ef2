package enrich

import "testing"

func TestDetectByExtension(t *testing.T) {
	d := NewLanguageDetector()

	tests := []struct {
		filename string
		want     string
	}{
		{"cmd/server/main.go", "go"},
		{"scripts/deploy.py", "python"},
		{"web/app.tsx", "typescript"},
		{"README.md", "markdown"},
		{"schema.sql", "sql"},
		{"config.yml", "yaml"},
	}

	for _, tt := range tests {
		if got := d.Detect(tt.filename); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestDetectUnknown(t *testing.T) {
	d := NewLanguageDetector()
	if got := d.Detect("data.zzzqqq"); got != "unknown" {
		t.Errorf("Detect = %q, want unknown", got)
	}
	if got := d.Detect("LICENSE"); got == "" {
		t.Error("Detect returned empty string, want a language or unknown")
	}
}

func TestRegisterOverride(t *testing.T) {
	d := NewLanguageDetector()
	d.Register(".tpl", "template")
	if got := d.Detect("emails/welcome.tpl"); got != "template" {
		t.Errorf("Detect = %q, want template", got)
	}

	// Registrations are per-instance.
	fresh := NewLanguageDetector()
	if got := fresh.Detect("emails/welcome.tpl"); got == "template" {
		t.Error("registration leaked into a fresh detector")
	}
}

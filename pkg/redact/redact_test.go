package redact

import (
	"strings"
	"testing"
)

func TestTextRedactsWhenEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	out := Text("reach me at jane@example.com or +62 812 3456 7890")
	if !strings.Contains(out, "[REDACTED_EMAIL]") {
		t.Fatalf("expected email redacted, got %q", out)
	}
	if !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("expected phone redacted, got %q", out)
	}
}

func TestTextPassThroughWhenDisabled(t *testing.T) {
	SetEnabled(false)
	in := "call 0812345678901"
	if out := Text(in); out != in {
		t.Fatalf("expected passthrough, got %q", out)
	}
}

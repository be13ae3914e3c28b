package quality

import "testing"

func TestDetectISO6391(t *testing.T) {
	t.Parallel()

	if got := DetectISO6391("The central bank raised its benchmark interest rate by 25 basis points today."); got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
	if got := DetectISO6391("Die Zentralbank hat den Leitzins heute um 25 Basispunkte angehoben."); got != "de" {
		t.Fatalf("expected de, got %q", got)
	}
	if got := DetectISO6391(""); got != "" {
		t.Fatalf("expected empty code for empty text, got %q", got)
	}
	if got := DetectISO6391("ab 12"); got != "" {
		t.Fatalf("expected empty code for too-short sample, got %q", got)
	}
}

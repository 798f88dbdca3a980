package stage

import "testing"

func TestHealthString(t *testing.T) {
	ready := Healthy("copier")
	if got := ready.String(); got != "copier: ready" {
		t.Fatalf("unexpected ready rendering %q", got)
	}

	broken := Unhealthy("processor", "command not found: drp-encode")
	if broken.Ready {
		t.Fatal("unhealthy report must not be ready")
	}
	if got := broken.String(); got != "processor: command not found: drp-encode" {
		t.Fatalf("unexpected detail rendering %q", got)
	}
}

package publiclink

import "testing"

func TestURL(t *testing.T) {
	got := URL("http://dispatch.local/", "abc-123")
	want := "http://dispatch.local/public/jobs/abc-123"
	if got != want {
		t.Fatalf("URL = %q, want %q", got, want)
	}
}

func TestNewTokenUnique(t *testing.T) {
	if NewToken() == NewToken() {
		t.Fatalf("tokens should not repeat")
	}
}

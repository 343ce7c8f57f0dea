package buildinfo

import "testing"

func TestShortPrefersVersionThenCommit(t *testing.T) {
	defer func(v, c string) { Version, Commit = v, c }(Version, Commit)

	Version, Commit = "dev", "unknown"
	if got := Short(); got != "dev" {
		t.Fatalf("Short() = %q, want %q", got, "dev")
	}
	Commit = "abc123"
	if got := Short(); got != "abc123" {
		t.Fatalf("Short() = %q, want %q", got, "abc123")
	}
	Version = "v0.3.0"
	if got := Short(); got != "v0.3.0" {
		t.Fatalf("Short() = %q, want %q", got, "v0.3.0")
	}
	if got, want := String(), "v0.3.0 (abc123, "+Date+")"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

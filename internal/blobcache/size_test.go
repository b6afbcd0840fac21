package blobcache

import "testing"

func TestParseSizePlainDigits(t *testing.T) {
	n, ok := ParseSize("512")
	if !ok || n != 512 {
		t.Fatalf("got %d, %v", n, ok)
	}
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := map[string]uint64{
		"1KB":     1024,
		"2MB":     2 * 1024 * 1024,
		"3GB":     3 * 1024 * 1024 * 1024,
		"1TB":     1024 * 1024 * 1024 * 1024,
		"200mb":   200 * 1024 * 1024,
		"  2 GB ": 2 * 1024 * 1024 * 1024,
	}
	for raw, want := range cases {
		got, ok := ParseSize(raw)
		if !ok {
			t.Fatalf("expected %q to parse", raw)
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestParseSizeInvalid(t *testing.T) {
	for _, raw := range []string{"", "abc", "GB", "-5", "5XB", "5.5MB"} {
		if _, ok := ParseSize(raw); ok {
			t.Errorf("expected %q to fail to parse", raw)
		}
	}
}

func TestParseSizeOrDefault(t *testing.T) {
	if got := ParseSizeOrDefault("", 42); got != 42 {
		t.Fatalf("expected fallback for empty string, got %d", got)
	}
	if got := ParseSizeOrDefault("not-a-size", 42); got != 42 {
		t.Fatalf("expected fallback for invalid string, got %d", got)
	}
	if got := ParseSizeOrDefault("1KB", 42); got != 1024 {
		t.Fatalf("expected 1024, got %d", got)
	}
}

package storage

import "testing"

func TestNewMinioSource(t *testing.T) {
	src, err := NewMinioSource("localhost:9000", "minioadmin", "minioadmin", "music", false)
	if err != nil {
		t.Fatalf("NewMinioSource: %v", err)
	}
	if src.Bucket() != "music" {
		t.Errorf("Bucket() = %q, want music", src.Bucket())
	}
}

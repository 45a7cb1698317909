package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMockBackendSynthesizesDeterministicValues(t *testing.T) {
	m, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}

	key := "K0000000000s0016" // 16-byte key in the default kvFormat's layout
	if len(key) != 16 {
		t.Fatalf("test key is %d bytes, want 16", len(key))
	}

	v1, err := m.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(v1) != 500 {
		t.Fatalf("len(value) = %d, want 500 (default value size)", len(v1))
	}

	v2, err := m.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v1 != v2 {
		t.Error("synthesized value is not deterministic across repeated Get calls")
	}
}

func TestMockBackendGetRejectsWrongLengthKey(t *testing.T) {
	m, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	if _, err := m.Get(context.Background(), "short"); err == nil {
		t.Error("Get with a key of the wrong length should fail")
	}
}

func TestMockBackendSetFormatChangesSynthesis(t *testing.T) {
	m, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	if err := m.SetFormat(8, 32); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	key := "K00s0008" // 8-byte key matching the new format
	v, err := m.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(v) != 32 {
		t.Errorf("len(value) = %d, want 32 after SetFormat(8, 32)", len(v))
	}
}

func TestMockBackendImageModePutThenGet(t *testing.T) {
	m, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	m.EnableImage()

	if err := m.Put(context.Background(), "any-key", "0123456789"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := m.Get(context.Background(), "any-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(v) != 10 {
		t.Errorf("len(value) = %d, want 10 (image mode replays val_size, not content)", len(v))
	}
}

func TestMockBackendImageModeGetMissingKeyErrors(t *testing.T) {
	m, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	m.EnableImage()
	if _, err := m.Get(context.Background(), "never-put"); err == nil {
		t.Error("Get on an untracked key in image mode should fail")
	}
}

func TestMockBackendLoadImageFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.csv")
	content := "key,val_size\nfoo,100\nbar,200\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	m, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	if err := m.LoadImage(path); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}

	v, err := m.Get(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(v) != 100 {
		t.Errorf("len(value) = %d, want 100", len(v))
	}
}

func TestMockBackendLoadImageRejectsBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("not,the,right,header\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	m, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	if err := m.LoadImage(path); err == nil {
		t.Error("LoadImage with an unrecognized header should fail")
	}
}

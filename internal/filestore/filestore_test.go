package filestore

import (
	"os"
	"testing"
)

func TestSavePathDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Path(KindContract); ok {
		t.Error("missing asset reported present")
	}

	if err := s.Save(KindContract, []byte("riff")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	p, ok := s.Path(KindContract)
	if !ok {
		t.Fatal("saved asset not found")
	}
	data, err := os.ReadFile(p)
	if err != nil || string(data) != "riff" {
		t.Errorf("read back %q, %v", data, err)
	}

	if err := s.Delete(KindContract); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Path(KindContract); ok {
		t.Error("deleted asset still present")
	}
	if err := s.Delete(KindContract); err != nil {
		t.Errorf("double delete errored: %v", err)
	}
}

func TestRejectsUnknownKind(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("../../etc/passwd", []byte("x")); err == nil {
		t.Error("unknown kind accepted")
	}
	if err := s.Delete("boom"); err == nil {
		t.Error("unknown kind accepted for delete")
	}
}

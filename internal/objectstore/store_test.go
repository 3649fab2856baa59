package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestObjectErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *ObjectError
		expected string
	}{
		{
			name:     "get not found",
			err:      &ObjectError{Op: "Get", Key: "checkpoints/nightly/a1.json", Err: ErrNotFound},
			expected: `objectstore: Get "checkpoints/nightly/a1.json": object not found`,
		},
		{
			name:     "put access denied",
			err:      &ObjectError{Op: "Put", Key: "checkpoints/StrataCheckpoint/b2.json", Err: ErrAccessDenied},
			expected: `objectstore: Put "checkpoints/StrataCheckpoint/b2.json": access denied`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ObjectError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestObjectErrorUnwrap(t *testing.T) {
	err := &ObjectError{Op: "Get", Key: "k", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Error("ObjectError should unwrap to ErrNotFound")
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Error("ObjectError should not match ErrAccessDenied")
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"s3://bucket/checkpoints/x.json", "checkpoints/x.json"},
		{"s3://bucket", ""},
		{"checkpoints/x.json", "checkpoints/x.json"},
		{"s3://bucket/backups/", "backups"},
		{"/backups/", "backups"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"checkpoints/", "nightly", "a.json"}, "checkpoints/nightly/a.json"},
		{[]string{"", "/nightly/", "a.json"}, "nightly/a.json"},
		{[]string{"a"}, "a"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := JoinKey(tt.parts...); got != tt.want {
			t.Errorf("JoinKey(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func TestMockStore(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	for _, key := range []string{"p/b", "p/a", "q/c"} {
		data := []byte("data-" + key)
		if err := s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "text/plain", map[string]string{"k": key}); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	rc, err := s.Get(ctx, "p/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "data-p/a" {
		t.Errorf("Get = %q", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing error = %v, want ErrNotFound", err)
	}

	list, err := s.List(ctx, "p/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Key != "p/a" || list[1].Key != "p/b" {
		t.Errorf("List = %+v", list)
	}
	if list[0].Metadata["k"] != "p/a" {
		t.Errorf("metadata not kept: %+v", list[0].Metadata)
	}

	if err := s.Delete(ctx, "p/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "p/a"); err != nil {
		t.Errorf("Delete of missing key should succeed, got %v", err)
	}

	s.Close()
	if _, err := s.List(ctx, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("List after Close = %v, want ErrClosed", err)
	}
}

package compression

import (
	"io"
	"testing"

	"github.com/chtzvt/docslurp/internal/testutil"
)

func roundTrip(t *testing.T, compression string) {
	t.Helper()
	var buf testutil.WriteCloserBuffer
	w, err := NewWriter(&buf, compression)
	if err != nil {
		t.Fatalf("NewWriter %s: %v", compression, err)
	}
	original := []byte(`{"_id":"1","payload":"hello ` + compression + ` world"}` + "\n")
	if _, err := w.Write(original); err != nil {
		t.Fatalf("Write %s: %v", compression, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close %s: %v", compression, err)
	}
	if buf.Closed {
		t.Errorf("%s writer closed the underlying writer", compression)
	}

	r, err := NewReader(&buf, compression)
	if err != nil {
		t.Fatalf("NewReader %s: %v", compression, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll %s: %v", compression, err)
	}
	if string(out) != string(original) {
		t.Errorf("%s decompress mismatch: got %q, want %q", compression, out, original)
	}
}

func TestRoundTrip_Zstd(t *testing.T)  { roundTrip(t, "zstd") }
func TestRoundTrip_Gzip(t *testing.T)  { roundTrip(t, "gzip") }
func TestRoundTrip_Bzip2(t *testing.T) { roundTrip(t, "bzip2") }

func TestNewWriter_None(t *testing.T) {
	var buf testutil.WriteCloserBuffer
	w, err := NewWriter(&buf, "none")
	if err != nil {
		t.Fatalf("NewWriter none: %v", err)
	}
	original := []byte("plain text passthrough")
	if _, err := w.Write(original); err != nil {
		t.Fatalf("Write none: %v", err)
	}
	w.Close()

	if buf.String() != string(original) {
		t.Errorf("none passthrough mismatch: got %q, want %q", buf.String(), original)
	}
}

func TestNewWriter_Unsupported(t *testing.T) {
	var buf testutil.WriteCloserBuffer
	if _, err := NewWriter(&buf, "lzma"); err == nil {
		t.Error("Expected error for unsupported compression, got nil")
	}
	if _, err := NewReader(&buf, "lzma"); err == nil {
		t.Error("Expected error for unsupported decompression, got nil")
	}
	if Supported("lzma") {
		t.Error("lzma reported as supported")
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{"gzip": ".gz", "bzip2": ".bz2", "zstd": ".zst", "none": "", "": ""}
	for c, want := range cases {
		if got := Extension(c); got != want {
			t.Errorf("Extension(%q) = %q, want %q", c, got, want)
		}
	}
}

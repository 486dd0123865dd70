package output

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantFirst int64
		wantLast  int64
		wantNil   bool
		wantErr   error
	}{
		{"no header", "", 1000, 0, 0, true, nil},
		{"whole file", "bytes=0-999", 1000, 0, 999, false, nil},
		{"open end", "bytes=500-", 1000, 500, 999, false, nil},
		{"suffix", "bytes=-500", 1000, 500, 999, false, nil},
		{"one byte", "bytes=0-0", 1000, 0, 0, false, nil},
		{"end clamped", "bytes=0-2000", 1000, 0, 999, false, nil},
		{"suffix longer than file", "bytes=-2000", 500, 0, 499, false, nil},
		{"first of several spans", "bytes=0-99, 200-299", 1000, 0, 99, false, nil},

		{"start at size", "bytes=1000-", 1000, 0, 0, false, ErrUnsatisfiable},
		{"start past size", "bytes=1500-2000", 1000, 0, 0, false, ErrUnsatisfiable},
		{"reversed", "bytes=200-100", 1000, 0, 0, false, ErrUnsatisfiable},
		{"no unit", "0-100", 1000, 0, 0, false, ErrInvalidRange},
		{"wrong unit", "items=0-100", 1000, 0, 0, false, ErrInvalidRange},
		{"bad start", "bytes=abc-100", 1000, 0, 0, false, ErrInvalidRange},
		{"bad end", "bytes=0-abc", 1000, 0, 0, false, ErrInvalidRange},
		{"zero suffix", "bytes=-0", 1000, 0, 0, false, ErrInvalidRange},
		{"extra dash", "bytes=1-2-3", 1000, 0, 0, false, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseRange() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange() unexpected error: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Fatalf("ParseRange() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("ParseRange() = nil, want a range")
			}
			if got.First != tt.wantFirst || got.Last != tt.wantLast {
				t.Errorf("ParseRange() = {%d, %d}, want {%d, %d}", got.First, got.Last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestByteRange_Header(t *testing.T) {
	r := ByteRange{First: 100, Last: 199}
	if got := r.Length(); got != 100 {
		t.Errorf("Length() = %d, want 100", got)
	}
	if got := r.Header(1000); got != "bytes 100-199/1000" {
		t.Errorf("Header() = %q", got)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a/out.tif":  "image/tiff",
		"a/OUT.TIFF": "image/tiff",
		"a/out.png":  "image/png",
		"a/out.raw":  "application/octet-stream",
		"a/OUT.RAW":  "application/octet-stream",
		"a/out":      "application/octet-stream",
	}
	for path, want := range tests {
		if got := ContentType(path); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestContentType_FallsBackToMimeTable(t *testing.T) {
	// .json is in Go's builtin table, so the lookup never comes back empty.
	want := mime.TypeByExtension(".json")
	if want == "" {
		t.Fatal("mime table has no entry for .json")
	}
	if got := ContentType("a/meta.json"); got != want {
		t.Errorf("ContentType(meta.json) = %q, want %q", got, want)
	}

	if ext := ".denoiseq"; mime.TypeByExtension(ext) == "" {
		if got := ContentType("a/out" + ext); got != "application/octet-stream" {
			t.Errorf("ContentType(unknown) = %q, want application/octet-stream", got)
		}
	}
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "out"), 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "out", "frame.tif")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	return NewServer(root, slog.New(slog.NewTextHandler(io.Discard, nil))), path
}

func TestServeFile_Full(t *testing.T) {
	s, path := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/out", nil)
	if err := s.ServeFile(rr, req, path); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "0123456789" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "image/tiff" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != "attachment; filename=frame.tif" {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := rr.Header().Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q", got)
	}
}

func TestServeFile_Partial(t *testing.T) {
	s, path := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/out", nil)
	req.Header.Set("Range", "bytes=2-5")
	if err := s.ServeFile(rr, req, path); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if rr.Body.String() != "2345" {
		t.Errorf("body = %q, want 2345", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_Unsatisfiable(t *testing.T) {
	s, path := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/out", nil)
	req.Header.Set("Range", "bytes=50-")
	if err := s.ServeFile(rr, req, path); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_MalformedRangeSendsWholeFile(t *testing.T) {
	s, path := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/out", nil)
	req.Header.Set("Range", "lines=1-2")
	if err := s.ServeFile(rr, req, path); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}
	if rr.Code != http.StatusOK || rr.Body.Len() != 10 {
		t.Errorf("status = %d, body len = %d; want 200 and 10", rr.Code, rr.Body.Len())
	}
}

func TestServeFile_HeadHasNoBody(t *testing.T) {
	s, path := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/out", nil)
	if err := s.ServeFile(rr, req, path); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD body length = %d, want 0", rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q", got)
	}
}

func TestServeFile_Missing(t *testing.T) {
	s, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/out", nil)
	missing := filepath.Join(s.root, "out", "gone.tif")
	if err := s.ServeFile(rr, req, missing); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestServeFile_OutsideRoot(t *testing.T) {
	s, _ := newTestServer(t)

	other := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(other, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/out", nil)
	err := s.ServeFile(rr, req, other)
	if !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("ServeFile() error = %v, want ErrOutsideRoot", err)
	}
	if rr.Body.Len() != 0 {
		t.Error("nothing should be written for paths outside the root")
	}
}

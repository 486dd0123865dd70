// Package output serves downloaded denoise results from the download root.
package output

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrOutsideRoot is returned for paths that do not resolve under the root.
var ErrOutsideRoot = errors.New("path is outside the download root")

type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, path string) error
}

// Server streams files below root with single-span Range support.
type Server struct {
	root   string
	logger *slog.Logger
}

func NewServer(root string, logger *slog.Logger) *Server {
	return &Server{root: root, logger: logger}
}

// ContentType returns the MIME type for a result file. Raw sensor frames
// and anything unknown are served as octet streams.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".png":
		return "image/png"
	case ".raw", "":
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ServeFile writes path to w. Missing files get a 404 and a nil error;
// paths outside the root return ErrOutsideRoot without writing.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	if err := s.within(path); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "output file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if info.IsDir() {
		http.Error(w, "output file not found", http.StatusNotFound)
		return nil
	}
	size := info.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentType(path))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))

	br, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// A malformed Range header is ignored and the whole file is sent.
		br = nil
	}

	body := io.Reader(f)
	status := http.StatusOK
	length := size
	if br != nil {
		if _, err := f.Seek(br.First, io.SeekStart); err != nil {
			return fmt.Errorf("seek output: %w", err)
		}
		body = io.LimitReader(f, br.Length())
		status = http.StatusPartialContent
		length = br.Length()
		h.Set("Content-Range", br.Header(size))
	}

	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := io.Copy(w, body); err != nil {
		s.logger.Debug("output stream interrupted", "path", filepath.Base(path), "error", err)
	}
	return nil
}

func (s *Server) within(path string) error {
	if s.root == "" {
		return nil
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrOutsideRoot
	}
	return nil
}

package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/heimdex/denoise-agent/internal/cloud"
)

// DownloadPath maps an object key onto a file below root. Both separator
// styles in key are accepted; a key that would resolve outside root is
// rejected.
func DownloadPath(root, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", &cloud.ValidationError{Field: "output_key", Message: "is empty"}
	}

	normalized := strings.ReplaceAll(key, "\\", "/")
	normalized = strings.TrimLeft(normalized, "/")
	rel := filepath.FromSlash(normalized)

	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", &cloud.ValidationError{Field: "output_key", Message: "must be relative"}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(absRoot, rel)

	inside, err := filepath.Rel(absRoot, dest)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", &cloud.ValidationError{Field: "output_key", Message: "escapes the download directory"}
	}
	return dest, nil
}

package request

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// IsTIFF reports whether path has a .tif or .tiff extension.
func IsTIFF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// TIFFDimensions reads width and height from the TIFF header without
// decoding pixel data.
func TIFFDimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode tiff header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// WithImageSize returns fields with Width and Height taken from localPath
// when it is a readable TIFF. ok is false when the probe was skipped or failed.
func WithImageSize(fields Fields, localPath string) (Fields, bool, error) {
	if !IsTIFF(localPath) {
		return fields, false, nil
	}
	w, h, err := TIFFDimensions(localPath)
	if err != nil {
		return fields, false, err
	}
	fields.Width = w
	fields.Height = h
	return fields, true, nil
}

package cloud

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/heimdex/denoise-agent/internal/profile"
)

func storageProfile() staticProfile {
	p := profileFor("http://127.0.0.1:9000").p
	p.Storage = &profile.Storage{
		Endpoint:  "127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Region:    "us-east-1",
		Expiry:    10 * time.Minute,
	}
	return staticProfile{p: p}
}

func TestMinioPresigner_SignsLocally(t *testing.T) {
	m := NewMinioPresigner(storageProfile(), testLogger())

	tests := []struct {
		mode       string
		wantMethod string
		wantPath   string
	}{
		{ModeUpload, http.MethodPut, "/ddn-in/Dev/a.tif"},
		{ModeDownload, http.MethodGet, "/ddn-out/Dev/a.tif"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			res, err := m.RequestPresignedURL(context.Background(), tt.mode, "Dev/a.tif")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", res.Method, tt.wantMethod)
			}

			u, err := url.Parse(res.URL)
			if err != nil {
				t.Fatalf("parse url: %v", err)
			}
			if u.Host != "127.0.0.1:9000" || u.Path != tt.wantPath {
				t.Errorf("url = %s, want host 127.0.0.1:9000 path %s", res.URL, tt.wantPath)
			}
			if u.Query().Get("X-Amz-Signature") == "" {
				t.Errorf("url %s carries no signature", res.URL)
			}
			if !strings.Contains(u.Query().Get("X-Amz-Credential"), "minio/") {
				t.Errorf("credential = %q", u.Query().Get("X-Amz-Credential"))
			}
		})
	}
}

func TestMinioPresigner_RequiresStorage(t *testing.T) {
	m := NewMinioPresigner(profileFor("http://x"), testLogger())

	_, err := m.RequestPresignedURL(context.Background(), ModeUpload, "Dev/a.tif")
	var pe *PresignError
	if !errors.As(err, &pe) || !errors.Is(err, errNoStorage) {
		t.Errorf("error = %v, want PresignError wrapping errNoStorage", err)
	}
}

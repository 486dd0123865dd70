package profile

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSettingsJSON = `{
  "Profiles": {
    "Dev": {
      "ApiBase": "http://localhost:8080/",
      "InBucket": "ddn-in",
      "OutBucket": "ddn-out",
      "Defaults": { "model": "fast", "strength": 35 }
    },
    "Prod": {
      "ApiBase": "https://api.example.com",
      "HealthPath": "/ping",
      "InvokePath": "/v1/invoke",
      "PresignPath": "/v1/presign",
      "GrpcEndpoint": "https://grpc.example.com:443/",
      "InBucket": "prod-in",
      "OutBucket": "prod-out"
    },
    "Broken": {
      "ApiBase": "not a url",
      "InBucket": "a",
      "OutBucket": "b"
    }
  }
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustParse(t *testing.T) *Settings {
	t.Helper()
	s, err := Parse([]byte(testSettingsJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestParse_AppliesFallbacks(t *testing.T) {
	s := mustParse(t)

	p, err := s.Get("Dev")
	if err != nil {
		t.Fatalf("Get(Dev): %v", err)
	}
	if p.Name != "Dev" {
		t.Errorf("Name = %q, want Dev", p.Name)
	}
	if p.HealthURL() != "http://localhost:8080/healthz" {
		t.Errorf("HealthURL() = %q", p.HealthURL())
	}
	if p.InvokeURL() != "http://localhost:8080/invocations" {
		t.Errorf("InvokeURL() = %q", p.InvokeURL())
	}
	if p.PresignURL() != "http://localhost:8080/presign" {
		t.Errorf("PresignURL() = %q", p.PresignURL())
	}

	d := p.Defaults
	if d.Model != "fast" {
		t.Errorf("Defaults.Model = %q, want fast", d.Model)
	}
	if d.Strength != 35 {
		t.Errorf("Defaults.Strength = %d, want 35", d.Strength)
	}
	if d.PixelPitch != DefaultPixelPitch || d.Type != DefaultType || d.Width != DefaultWidth ||
		d.Height != DefaultHeight || d.UsingBits != DefaultUsingBits || d.DigitalOffset != DefaultDigitalOffset {
		t.Errorf("Defaults fallbacks not applied: %+v", d)
	}
}

func TestParse_ExplicitPathsAndRPCTarget(t *testing.T) {
	s := mustParse(t)

	p, err := s.Get("Prod")
	if err != nil {
		t.Fatalf("Get(Prod): %v", err)
	}
	if p.HealthURL() != "https://api.example.com/ping" {
		t.Errorf("HealthURL() = %q", p.HealthURL())
	}
	if p.RPCTarget() != "https://grpc.example.com:443" {
		t.Errorf("RPCTarget() = %q", p.RPCTarget())
	}

	dev, _ := s.Get("Dev")
	if dev.RPCTarget() != "http://localhost:8080" {
		t.Errorf("Dev RPCTarget() = %q, want ApiBase fallback", dev.RPCTarget())
	}
}

func TestGet_Errors(t *testing.T) {
	s := mustParse(t)

	if _, err := s.Get("Missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Get(Missing) error = %v, want ErrProfileNotFound", err)
	}
	if _, err := s.Get("dev"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Get(dev) error = %v, want ErrProfileNotFound (names are case-sensitive)", err)
	}
	if _, err := s.Get("Broken"); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Get(Broken) error = %v, want ErrInvalidProfile", err)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml or json", "{{{"},
		{"no profiles", `{"Other": {}}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_YAMLAndMissingFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want os.ErrNotExist", err)
	}

	path := filepath.Join(dir, "settings.yaml")
	yml := `Profiles:
  Local:
    ApiBase: http://127.0.0.1:9000
    InBucket: in
    OutBucket: out
    Storage:
      Endpoint: 127.0.0.1:9000
      AccessKey: minio
      SecretKey: minio123
      Region: us-east-1
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := s.Get("Local")
	if err != nil {
		t.Fatalf("Get(Local): %v", err)
	}
	if p.Storage == nil || p.Storage.Endpoint != "127.0.0.1:9000" {
		t.Fatalf("Storage = %+v", p.Storage)
	}
	if p.Storage.Expiry != DefaultPresignExpiry {
		t.Errorf("Storage.Expiry = %v, want %v", p.Storage.Expiry, DefaultPresignExpiry)
	}
}

func TestMarshal_MasksSecret(t *testing.T) {
	p := Profile{
		Name:      "Local",
		APIBase:   "http://x",
		InBucket:  "in",
		OutBucket: "out",
		Storage:   &Storage{Endpoint: "e", AccessKey: "ak", SecretKey: "supersecret", Expiry: time.Minute},
	}

	out, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(out), "supersecret") {
		t.Errorf("Marshal leaked secret:\n%s", out)
	}
	if !strings.Contains(string(out), "Local:") {
		t.Errorf("Marshal output missing profile name:\n%s", out)
	}
	if p.Storage.SecretKey != "supersecret" {
		t.Error("Marshal mutated the caller's profile")
	}
}

func TestResolver_SetActive(t *testing.T) {
	s := mustParse(t)

	r, err := NewResolver(s, "Dev", testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if r.Active().Name != "Dev" {
		t.Fatalf("Active().Name = %q, want Dev", r.Active().Name)
	}

	if _, err := r.SetActive("Broken"); err == nil {
		t.Fatal("SetActive(Broken) should fail")
	}
	if r.Active().Name != "Dev" {
		t.Errorf("active profile changed after failed SetActive: %q", r.Active().Name)
	}

	p, err := r.SetActive("Prod")
	if err != nil {
		t.Fatalf("SetActive(Prod): %v", err)
	}
	if p.Name != "Prod" || r.Active().Name != "Prod" {
		t.Errorf("Active().Name = %q, want Prod", r.Active().Name)
	}

	if got := r.Names(); len(got) != 3 || got[0] != "Broken" || got[2] != "Prod" {
		t.Errorf("Names() = %v", got)
	}
}

func TestNewResolver_MissingProfile(t *testing.T) {
	s := mustParse(t)
	if _, err := NewResolver(s, "Nope", testLogger()); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("NewResolver error = %v, want ErrProfileNotFound", err)
	}
}

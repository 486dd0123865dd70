package request

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/heimdex/denoise-agent/internal/profile"
)

func testProfile() profile.Profile {
	return profile.Profile{
		Name:      "Dev",
		APIBase:   "http://localhost:8080",
		InBucket:  "ddn-in",
		OutBucket: "ddn-out",
		Defaults: profile.Defaults{
			Model:         "efficient",
			PixelPitch:    140,
			Type:          "static",
			Strength:      20,
			Width:         3072,
			Height:        3072,
			UsingBits:     16,
			DigitalOffset: 100,
			ImgInputURL:   "s3://ddn-in/default/in.tif",
			ImgOutputURL:  "s3://ddn-out/default/in.tif",
		},
	}
}

func TestBuildRequest_DerivesLocators(t *testing.T) {
	p := testProfile()

	for _, name := range []string{"a.tif", "scan 01.tiff", "nested/b.tif"} {
		key, req := BuildRequest(p, p.Name, name, Fields{}, "")

		if key != "Dev/"+name {
			t.Errorf("key = %q, want %q", key, "Dev/"+name)
		}
		if want := "s3://ddn-in/Dev/" + name; req.ImgInputURL != want {
			t.Errorf("ImgInputURL = %q, want %q", req.ImgInputURL, want)
		}
		if want := "s3://ddn-out/Dev/" + name; req.ImgOutputURL != want {
			t.Errorf("ImgOutputURL = %q, want %q", req.ImgOutputURL, want)
		}
	}
}

func TestBuildRequest_OutputKeyOverride(t *testing.T) {
	p := testProfile()

	_, req := BuildRequest(p, "acct", "a.tif", Fields{}, "acct/out/a_denoised.tif")
	if req.ImgOutputURL != "s3://ddn-out/acct/out/a_denoised.tif" {
		t.Errorf("ImgOutputURL = %q", req.ImgOutputURL)
	}
	if req.ImgInputURL != "s3://ddn-in/acct/a.tif" {
		t.Errorf("ImgInputURL = %q", req.ImgInputURL)
	}

	_, req = BuildRequest(p, "acct", "a.tif", Fields{}, "s3://other/x.tif")
	if req.ImgOutputURL != "s3://other/x.tif" {
		t.Errorf("ImgOutputURL = %q, want locator used as is", req.ImgOutputURL)
	}
}

func TestBuildRequest_EmptyFileNameKeepsDefaults(t *testing.T) {
	p := testProfile()

	key, req := BuildRequest(p, "Dev", "  ", Fields{}, "ignored")
	if key != "" {
		t.Errorf("key = %q, want empty", key)
	}
	if req.ImgInputURL != p.Defaults.ImgInputURL || req.ImgOutputURL != p.Defaults.ImgOutputURL {
		t.Errorf("locators = %q, %q; want profile defaults", req.ImgInputURL, req.ImgOutputURL)
	}
}

func TestBuildRequest_FieldOverrides(t *testing.T) {
	p := testProfile()

	_, req := BuildRequest(p, "Dev", "a.tif", Fields{Model: "quality", Width: 1024, Height: 512}, "")
	if req.Model != "quality" || req.Width != 1024 || req.Height != 512 {
		t.Errorf("overrides not applied: %+v", req)
	}
	if req.Strength != 20 || req.UsingBits != 16 || req.DigitalOffset != 100 || req.PixelPitch != 140 || req.Type != "static" {
		t.Errorf("defaults lost: %+v", req)
	}
	if p.Defaults.Model != "efficient" {
		t.Error("BuildRequest mutated the profile defaults")
	}
}

func TestInvokeRequest_JSONRoundTrip(t *testing.T) {
	_, req := BuildRequest(testProfile(), "Dev", "a.tif", Fields{}, "")

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal map: %v", err)
	}
	for _, k := range []string{"model", "pixel_pitch", "type", "strength", "width", "height",
		"using_bits", "digital_offset", "img_input_url", "img_output_url"} {
		if _, ok := fields[k]; !ok {
			t.Errorf("JSON missing field %q: %s", k, data)
		}
	}

	var back InvokeRequest
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != req {
		t.Errorf("round trip = %+v, want %+v", back, req)
	}
}

func TestExtractKeyFromS3URL(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"s3://bucket/a/b/c.tif", "a/b/c.tif", true},
		{"S3://bucket/key", "key", true},
		{"s3://bucket/", "", false},
		{"s3://bucket", "", false},
		{"s3:///key", "", false},
		{"not-a-url", "", false},
		{"https://bucket/key", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractKeyFromS3URL(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ExtractKeyFromS3URL(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFileNameFromURLOrPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"s3://bucket/key/dir/file.tif", "file.tif"},
		{"s3://bucket", ""},
		{"https://host/a/b/c.tif?X-Amz-Signature=1", "c.tif"},
		{"https://host/", ""},
		{"/home/u/scans/img.tiff", "img.tiff"},
		{`C:\scans\img.tif`, "img.tif"},
		{"img.tif", "img.tif"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := FileNameFromURLOrPath(tt.in); got != tt.want {
			t.Errorf("FileNameFromURLOrPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPickOutputKey(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantKey    string
		wantSource string
		wantOK     bool
	}{
		{"output_key wins", `{"output_key":"a/out.tif","result_s3_key":"b","img_output_url":"s3://x/c"}`, "a/out.tif", "output_key", true},
		{"result_s3_key second", `{"result_s3_key":"b/out.tif","img_output_url":"s3://x/c"}`, "b/out.tif", "result_s3_key", true},
		{"img_output_url third", `{"img_output_url":"s3://ddn-out/user/output_1.tif"}`, "user/output_1.tif", "img_output_url", true},
		{"empty output_key skipped", `{"output_key":"","result_s3_key":"b"}`, "b", "result_s3_key", true},
		{"malformed locator", `{"img_output_url":"https://x/y"}`, "", "", false},
		{"non-string ignored", `{"output_key":42}`, "", "", false},
		{"error wrapper", `{"error":"Empty response body"}`, "", "", false},
		{"not an object", `[1,2]`, "", "", false},
		{"not json", `nope`, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, src, ok := PickOutputKey([]byte(tt.body))
			if key != tt.wantKey || src != tt.wantSource || ok != tt.wantOK {
				t.Errorf("PickOutputKey = (%q, %q, %v), want (%q, %q, %v)", key, src, ok, tt.wantKey, tt.wantSource, tt.wantOK)
			}
		})
	}
}

func TestWithImageSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.tif")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tiff.Encode(f, image.NewGray16(image.Rect(0, 0, 7, 5)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	fields, ok, err := WithImageSize(Fields{Model: "m"}, path)
	if err != nil || !ok {
		t.Fatalf("WithImageSize = (%v, %v)", ok, err)
	}
	if fields.Width != 7 || fields.Height != 5 || fields.Model != "m" {
		t.Errorf("fields = %+v, want 7x5 with model kept", fields)
	}

	png := filepath.Join(dir, "scan.png")
	if _, ok, err := WithImageSize(Fields{}, png); ok || err != nil {
		t.Errorf("non-tiff: ok=%v err=%v, want skipped", ok, err)
	}

	bad := filepath.Join(dir, "bad.tiff")
	os.WriteFile(bad, []byte("not a tiff"), 0644)
	if _, ok, err := WithImageSize(Fields{}, bad); ok || err == nil {
		t.Errorf("bad tiff: ok=%v err=%v, want error", ok, err)
	}
}

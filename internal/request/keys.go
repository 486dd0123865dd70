package request

import (
	"encoding/json"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

func hasS3Scheme(s string) bool {
	return len(s) >= len(S3Scheme) && strings.EqualFold(s[:len(S3Scheme)], S3Scheme)
}

// ExtractKeyFromS3URL returns the key part of s3://bucket/key. It reports
// false for anything that is not a well-formed locator.
func ExtractKeyFromS3URL(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !hasS3Scheme(s) {
		return "", false
	}
	rest := s[len(S3Scheme):]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 || slash+1 >= len(rest) {
		return "", false
	}
	return rest[slash+1:], true
}

// FileNameFromURLOrPath returns the last path element of an s3:// locator,
// an absolute URL or a local path. It returns "" when there is none.
func FileNameFromURLOrPath(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if hasS3Scheme(s) {
		key, ok := ExtractKeyFromS3URL(s)
		if !ok {
			return ""
		}
		return cleanBase(path.Base(key))
	}

	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return cleanBase(path.Base(u.Path))
	}

	return cleanBase(filepath.Base(strings.ReplaceAll(s, "\\", "/")))
}

func cleanBase(name string) string {
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// OutputKeyExtractor pulls an output object key out of an invoke response.
type OutputKeyExtractor struct {
	Name    string
	Extract func(map[string]any) (string, bool)
}

func stringField(field string) func(map[string]any) (string, bool) {
	return func(m map[string]any) (string, bool) {
		s, ok := m[field].(string)
		s = strings.TrimSpace(s)
		return s, ok && s != ""
	}
}

// OutputKeyExtractors are tried in order; the first hit wins.
var OutputKeyExtractors = []OutputKeyExtractor{
	{Name: "output_key", Extract: stringField("output_key")},
	{Name: "result_s3_key", Extract: stringField("result_s3_key")},
	{Name: "img_output_url", Extract: func(m map[string]any) (string, bool) {
		s, ok := stringField("img_output_url")(m)
		if !ok {
			return "", false
		}
		return ExtractKeyFromS3URL(s)
	}},
}

// PickOutputKey runs OutputKeyExtractors against a JSON response body. It
// returns the key and the name of the extractor that produced it.
func PickOutputKey(body []byte) (key, source string, ok bool) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil || m == nil {
		return "", "", false
	}
	for _, ex := range OutputKeyExtractors {
		if k, ok := ex.Extract(m); ok {
			return k, ex.Name, true
		}
	}
	return "", "", false
}

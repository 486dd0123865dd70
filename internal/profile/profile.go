// Package profile loads named endpoint/bucket profiles from the settings file
// and tracks which one is active.
package profile

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Per-field fallbacks applied when a profile omits a value.
const (
	DefaultHealthPath  = "/healthz"
	DefaultInvokePath  = "/invocations"
	DefaultPresignPath = "/presign"

	DefaultModel         = "efficient"
	DefaultPixelPitch    = 140
	DefaultType          = "static"
	DefaultStrength      = 20
	DefaultWidth         = 3072
	DefaultHeight        = 3072
	DefaultUsingBits     = 16
	DefaultDigitalOffset = 100

	DefaultPresignExpiry = 15 * time.Minute
	DefaultStorageRegion = "us-east-1"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidProfile  = errors.New("invalid profile")
)

// Defaults holds the default request field values of a profile.
type Defaults struct {
	Model         string `yaml:"model" json:"model"`
	PixelPitch    int    `yaml:"pixel_pitch" json:"pixel_pitch"`
	Type          string `yaml:"type" json:"type"`
	Strength      int    `yaml:"strength" json:"strength"`
	Width         int    `yaml:"width" json:"width"`
	Height        int    `yaml:"height" json:"height"`
	UsingBits     int    `yaml:"using_bits" json:"using_bits"`
	DigitalOffset int    `yaml:"digital_offset" json:"digital_offset"`
	ImgInputURL   string `yaml:"img_input_url,omitempty" json:"img_input_url,omitempty"`
	ImgOutputURL  string `yaml:"img_output_url,omitempty" json:"img_output_url,omitempty"`
}

// Storage describes direct object-store access for profiles that sign URLs
// locally instead of calling the presign endpoint.
type Storage struct {
	Endpoint  string        `yaml:"Endpoint" json:"endpoint"`
	AccessKey string        `yaml:"AccessKey" json:"-"`
	SecretKey string        `yaml:"SecretKey" json:"-"`
	Region    string        `yaml:"Region" json:"region"`
	UseSSL    bool          `yaml:"UseSSL" json:"use_ssl"`
	Expiry    time.Duration `yaml:"Expiry" json:"expiry"`
}

// Profile is one named entry of the settings file.
type Profile struct {
	Name         string   `yaml:"-" json:"name"`
	APIBase      string   `yaml:"ApiBase" json:"api_base"`
	HealthPath   string   `yaml:"HealthPath" json:"health_path"`
	InvokePath   string   `yaml:"InvokePath" json:"invoke_path"`
	PresignPath  string   `yaml:"PresignPath" json:"presign_path"`
	GrpcEndpoint string   `yaml:"GrpcEndpoint,omitempty" json:"grpc_endpoint,omitempty"`
	InBucket     string   `yaml:"InBucket" json:"in_bucket"`
	OutBucket    string   `yaml:"OutBucket" json:"out_bucket"`
	Defaults     Defaults `yaml:"Defaults" json:"defaults"`
	Storage      *Storage `yaml:"Storage,omitempty" json:"storage,omitempty"`
}

// HealthURL returns ApiBase joined with HealthPath.
func (p Profile) HealthURL() string { return p.join(p.HealthPath) }

// InvokeURL returns ApiBase joined with InvokePath.
func (p Profile) InvokeURL() string { return p.join(p.InvokePath) }

// PresignURL returns ApiBase joined with PresignPath.
func (p Profile) PresignURL() string { return p.join(p.PresignPath) }

// RPCTarget returns the gRPC endpoint, falling back to ApiBase.
func (p Profile) RPCTarget() string {
	if p.GrpcEndpoint != "" {
		return strings.TrimRight(p.GrpcEndpoint, "/")
	}
	return strings.TrimRight(p.APIBase, "/")
}

func (p Profile) join(path string) string {
	base := strings.TrimRight(p.APIBase, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (p *Profile) applyFallbacks() {
	if p.HealthPath == "" {
		p.HealthPath = DefaultHealthPath
	}
	if p.InvokePath == "" {
		p.InvokePath = DefaultInvokePath
	}
	if p.PresignPath == "" {
		p.PresignPath = DefaultPresignPath
	}

	d := &p.Defaults
	if d.Model == "" {
		d.Model = DefaultModel
	}
	if d.PixelPitch == 0 {
		d.PixelPitch = DefaultPixelPitch
	}
	if d.Type == "" {
		d.Type = DefaultType
	}
	if d.Strength == 0 {
		d.Strength = DefaultStrength
	}
	if d.Width == 0 {
		d.Width = DefaultWidth
	}
	if d.Height == 0 {
		d.Height = DefaultHeight
	}
	if d.UsingBits == 0 {
		d.UsingBits = DefaultUsingBits
	}
	if d.DigitalOffset == 0 {
		d.DigitalOffset = DefaultDigitalOffset
	}

	if p.Storage != nil {
		if p.Storage.Expiry <= 0 {
			p.Storage.Expiry = DefaultPresignExpiry
		}
		if p.Storage.Region == "" {
			p.Storage.Region = DefaultStorageRegion
		}
	}
}

// Validate reports the first problem that makes the profile unusable.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	u, err := url.Parse(p.APIBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w %q: ApiBase %q is not an absolute URL", ErrInvalidProfile, p.Name, p.APIBase)
	}
	if p.InBucket == "" || p.OutBucket == "" {
		return fmt.Errorf("%w %q: InBucket and OutBucket are required", ErrInvalidProfile, p.Name)
	}
	if p.Storage != nil && (p.Storage.Endpoint == "" || p.Storage.AccessKey == "" || p.Storage.SecretKey == "") {
		return fmt.Errorf("%w %q: Storage needs Endpoint, AccessKey and SecretKey", ErrInvalidProfile, p.Name)
	}
	if p.Storage != nil && strings.Contains(p.Storage.Endpoint, "://") {
		return fmt.Errorf("%w %q: Storage endpoint must not include scheme: %q", ErrInvalidProfile, p.Name, p.Storage.Endpoint)
	}
	return nil
}

// Settings is the parsed settings file.
type Settings struct {
	profiles map[string]Profile
}

type settingsFile struct {
	Profiles map[string]Profile `yaml:"Profiles"`
}

// Load reads a JSON or YAML settings file of the form {"Profiles": {"<name>": {...}}}.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes settings from JSON or YAML bytes.
func Parse(data []byte) (*Settings, error) {
	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("%w: no Profiles section", ErrInvalidProfile)
	}

	s := &Settings{profiles: make(map[string]Profile, len(f.Profiles))}
	for name, p := range f.Profiles {
		p.Name = name
		p.applyFallbacks()
		s.profiles[name] = p
	}
	return s, nil
}

// Get returns a validated copy of the named profile.
func (s *Settings) Get(name string) (Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Names returns profile names in sorted order.
func (s *Settings) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for n := range s.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Marshal renders a profile as YAML with secrets masked.
func Marshal(p Profile) ([]byte, error) {
	if p.Storage != nil {
		st := *p.Storage
		st.SecretKey = "****"
		p.Storage = &st
	}
	out := map[string]Profile{p.Name: p}
	return yaml.Marshal(out)
}

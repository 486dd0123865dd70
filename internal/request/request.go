// Package request derives object keys and storage locators and builds the
// processing request sent to the invoke endpoint.
package request

import (
	"strings"

	"github.com/heimdex/denoise-agent/internal/profile"
)

// S3Scheme prefixes every storage locator.
const S3Scheme = "s3://"

// InvokeRequest is the JSON body of an invoke call.
type InvokeRequest struct {
	Model         string `json:"model"`
	PixelPitch    int    `json:"pixel_pitch"`
	Type          string `json:"type"`
	Strength      int    `json:"strength"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	UsingBits     int    `json:"using_bits"`
	DigitalOffset int    `json:"digital_offset"`
	ImgInputURL   string `json:"img_input_url"`
	ImgOutputURL  string `json:"img_output_url"`
}

// Fields are caller overrides of the processing parameters. Zero values
// keep the profile default.
type Fields struct {
	Model         string
	PixelPitch    int
	Type          string
	Strength      int
	Width         int
	Height        int
	UsingBits     int
	DigitalOffset int
}

// FromDefaults seeds a request from profile defaults.
func FromDefaults(d profile.Defaults) InvokeRequest {
	return InvokeRequest{
		Model:         d.Model,
		PixelPitch:    d.PixelPitch,
		Type:          d.Type,
		Strength:      d.Strength,
		Width:         d.Width,
		Height:        d.Height,
		UsingBits:     d.UsingBits,
		DigitalOffset: d.DigitalOffset,
		ImgInputURL:   d.ImgInputURL,
		ImgOutputURL:  d.ImgOutputURL,
	}
}

func (r InvokeRequest) withFields(f Fields) InvokeRequest {
	if f.Model != "" {
		r.Model = f.Model
	}
	if f.PixelPitch != 0 {
		r.PixelPitch = f.PixelPitch
	}
	if f.Type != "" {
		r.Type = f.Type
	}
	if f.Strength != 0 {
		r.Strength = f.Strength
	}
	if f.Width != 0 {
		r.Width = f.Width
	}
	if f.Height != 0 {
		r.Height = f.Height
	}
	if f.UsingBits != 0 {
		r.UsingBits = f.UsingBits
	}
	if f.DigitalOffset != 0 {
		r.DigitalOffset = f.DigitalOffset
	}
	return r
}

// ObjectKey returns account/fileName, or "" when either part is missing.
func ObjectKey(account, fileName string) string {
	account = strings.TrimSpace(account)
	fileName = strings.TrimSpace(fileName)
	if account == "" || fileName == "" {
		return ""
	}
	return account + "/" + fileName
}

// S3URL formats a storage locator.
func S3URL(bucket, key string) string {
	return S3Scheme + bucket + "/" + key
}

// BuildRequest derives the object key and the request body for one file.
// outputKey, when set, replaces the derived output key verbatim; a full
// s3:// locator is used as the output locator as is. An empty
// fileName leaves the profile default locators untouched and returns an
// empty key.
func BuildRequest(p profile.Profile, account, fileName string, fields Fields, outputKey string) (string, InvokeRequest) {
	req := FromDefaults(p.Defaults).withFields(fields)

	key := ObjectKey(account, fileName)
	if key == "" {
		return "", req
	}

	req.ImgInputURL = S3URL(p.InBucket, key)
	switch {
	case outputKey == "":
		req.ImgOutputURL = S3URL(p.OutBucket, key)
	case hasS3Scheme(outputKey):
		req.ImgOutputURL = outputKey
	default:
		req.ImgOutputURL = S3URL(p.OutBucket, outputKey)
	}
	return key, req
}

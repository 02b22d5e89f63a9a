package sluice

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/flate"
)

var jsonConfig = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// Factory Configuration
// -----------------------------------------------------------------------------

// FactoryConfig configures the default eligibility policy.
type FactoryConfig struct {
	// Level is the flate compression level (flate.DefaultCompression
	// when zero-valued via DefaultFactoryConfig).
	Level int `json:"level"`

	// MinSize vetoes compression of responses with a known content
	// length below this many bytes.
	MinSize int64 `json:"min_size"`

	// IncludedTypes is the mime-type allow set. Entries ending in "/*"
	// match a whole top-level type. Empty means DefaultCompressibleTypes.
	IncludedTypes []string `json:"included_types"`

	// ExcludedAgents lists User-Agent substrings for which compression
	// is vetoed (historically, broken proxies and ancient browsers).
	ExcludedAgents []string `json:"excluded_agents"`
}

// DefaultCompressibleTypes is the allow set used when none is configured.
var DefaultCompressibleTypes = []string{
	"text/*",
	"application/json",
	"application/javascript",
	"application/xml",
	"application/xhtml+xml",
	"image/svg+xml",
}

// DefaultMinSize is the smallest known content length worth compressing.
const DefaultMinSize = 256

// DefaultFactoryConfig returns the documented default policy.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		Level:         flate.DefaultCompression,
		MinSize:       DefaultMinSize,
		IncludedTypes: DefaultCompressibleTypes,
	}
}

// LoadFactoryConfig reads a FactoryConfig as JSON, filling unset fields
// with defaults.
func LoadFactoryConfig(r io.Reader) (FactoryConfig, error) {
	cfg := DefaultFactoryConfig()
	if err := jsonConfig.NewDecoder(r).Decode(&cfg); err != nil {
		return FactoryConfig{}, fmt.Errorf("sluice: decode factory config: %w", err)
	}
	if cfg.Level == 0 {
		cfg.Level = flate.DefaultCompression
	}
	if len(cfg.IncludedTypes) == 0 {
		cfg.IncludedTypes = DefaultCompressibleTypes
	}
	return cfg, nil
}

// -----------------------------------------------------------------------------
// Default Factory
// -----------------------------------------------------------------------------

// factory implements Factory with a mime allow set, a minimum-size veto,
// a User-Agent veto, and a sync.Pool of DEFLATE engines shared across
// responses.
type factory struct {
	cfg       FactoryConfig
	types     map[string]bool
	wildcards []string
	deflaters sync.Pool
}

// NewFactory creates the default eligibility policy.
//
// The zero-valued parts of cfg fall back to DefaultFactoryConfig. An
// invalid compression level surfaces as an error from the first deflater
// construction, so it is validated here.
func NewFactory(cfg FactoryConfig) (Factory, error) {
	if cfg.Level == 0 {
		cfg.Level = flate.DefaultCompression
	}
	if len(cfg.IncludedTypes) == 0 {
		cfg.IncludedTypes = DefaultCompressibleTypes
	}
	if _, err := flate.NewWriter(nil, cfg.Level); err != nil {
		return nil, fmt.Errorf("sluice: factory: %w", err)
	}

	f := &factory{cfg: cfg, types: make(map[string]bool)}
	for _, t := range cfg.IncludedTypes {
		t = strings.ToLower(t)
		if s, ok := strings.CutSuffix(t, "/*"); ok {
			f.wildcards = append(f.wildcards, s+"/")
			continue
		}
		f.types[t] = true
	}
	f.deflaters.New = func() any {
		d, err := NewDeflater(cfg.Level)
		if err != nil {
			// Level was validated above.
			panic(err)
		}
		return d
	}
	return f, nil
}

func (f *factory) Compressible(mimeType string) bool {
	if f.types[mimeType] {
		return true
	}
	for _, prefix := range f.wildcards {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

func (f *factory) AcquireDeflater(req *http.Request, contentLength int64) *Deflater {
	if contentLength >= 0 && contentLength < f.cfg.MinSize {
		return nil
	}
	if req != nil && f.excludedAgent(req.UserAgent()) {
		return nil
	}
	return f.deflaters.Get().(*Deflater)
}

func (f *factory) ReleaseDeflater(d *Deflater) {
	if d == nil {
		return
	}
	// Drop the reference to the session buffer before pooling.
	d.Reset(io.Discard)
	f.deflaters.Put(d)
}

func (f *factory) excludedAgent(ua string) bool {
	for _, a := range f.cfg.ExcludedAgents {
		if strings.Contains(ua, a) {
			return true
		}
	}
	return false
}

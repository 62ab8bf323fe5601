// Package config loads server configuration from YAML, using
// gopkg.in/yaml.v3 the way the rest of the retrieval pack's services do
// (nabbar-golib's config package is built directly on it) rather than a
// hand-rolled flag-only setup.
package config

import (
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	khttp "github.com/kourier-go/kourier/http"
)

// ServerOptions is the top-level configuration document: limits plus the
// process-wide options that aren't per-request (worker count, listen
// address, backlog).
type ServerOptions struct {
	ListenAddress string        `yaml:"listenAddress"`
	WorkerCount   int           `yaml:"workerCount"`
	BacklogSize   int           `yaml:"backlogSize"`
	RequestLimits LimitsOptions `yaml:"limits"`
}

// LimitsOptions mirrors http.Limits in YAML-friendly form; zero fields fall
// back to http.DefaultLimits() values rather than to Go's zero value, so an
// omitted section in the file means "use the default", not "disable".
type LimitsOptions struct {
	MaxURLSize            int `yaml:"maxUrlSize"`
	MaxHeaderNameSize     int `yaml:"maxHeaderNameSize"`
	MaxHeaderValueSize    int `yaml:"maxHeaderValueSize"`
	MaxHeaderLineCount    int `yaml:"maxHeaderLineCount"`
	MaxTrailerNameSize    int `yaml:"maxTrailerNameSize"`
	MaxTrailerValueSize   int `yaml:"maxTrailerValueSize"`
	MaxTrailerLineCount   int `yaml:"maxTrailerLineCount"`
	MaxChunkMetadataSize  int `yaml:"maxChunkMetadataSize"`
	MaxRequestSize        int `yaml:"maxRequestSize"`
	MaxBodySize           int `yaml:"maxBodySize"`
	IdleTimeoutSeconds    int `yaml:"idleTimeoutSeconds"`
	RequestTimeoutSeconds int `yaml:"requestTimeoutSeconds"`
	MaxConnectionCount    int `yaml:"maxConnectionCount"`
}

// Default returns the options a server runs with absent a config file.
func Default() ServerOptions {
	return ServerOptions{
		ListenAddress: ":8080",
		WorkerCount:   runtime.NumCPU(),
		BacklogSize:   1024,
	}
}

// Load reads and parses path, overlaying it onto Default() so an omitted
// field keeps its default rather than zeroing out.
func Load(path string) (ServerOptions, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// Limits converts the YAML-parsed options into http.Limits, falling back to
// http.DefaultLimits() field by field for anything left at zero.
func (o ServerOptions) Limits() khttp.Limits {
	d := khttp.DefaultLimits()
	l := o.RequestLimits
	set := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	set(&d.MaxURLSize, l.MaxURLSize)
	set(&d.MaxHeaderNameSize, l.MaxHeaderNameSize)
	set(&d.MaxHeaderValueSize, l.MaxHeaderValueSize)
	set(&d.MaxHeaderLineCount, l.MaxHeaderLineCount)
	set(&d.MaxTrailerNameSize, l.MaxTrailerNameSize)
	set(&d.MaxTrailerValueSize, l.MaxTrailerValueSize)
	set(&d.MaxTrailerLineCount, l.MaxTrailerLineCount)
	set(&d.MaxChunkMetadataSize, l.MaxChunkMetadataSize)
	set(&d.MaxRequestSize, l.MaxRequestSize)
	set(&d.MaxBodySize, l.MaxBodySize)
	set(&d.IdleTimeoutSeconds, l.IdleTimeoutSeconds)
	set(&d.RequestTimeoutSeconds, l.RequestTimeoutSeconds)
	set(&d.MaxConnectionCount, l.MaxConnectionCount)
	return d
}

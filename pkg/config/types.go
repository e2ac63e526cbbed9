// Package config implements the gateway's configuration model, loader,
// validator, and hot-reload diffing (spec §4.A, data model §3).
package config

import "time"

// Transport identifies the wire protocol used to reach an upstream server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportHTTP           Transport = "http"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// Mode controls whether the gateway keeps one connection per upstream alive
// across calls ("stateful") or opens/closes it per call ("stateless").
type Mode string

const (
	ModeStateful  Mode = "stateful"
	ModeStateless Mode = "stateless"
)

// ServerConfig is the on-disk description of one upstream MCP server.
type ServerConfig struct {
	Name string `json:"name" validate:"required,servername"`

	Transport Transport `json:"transport" validate:"required,oneof=stdio http sse streamable-http"`

	// stdio transport
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`

	// http/sse/streamable-http transport
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Mode Mode `json:"mode,omitempty" validate:"omitempty,oneof=stateful stateless"`

	Enabled bool `json:"enabled"`

	ConnectTimeout time.Duration `json:"connectTimeout,omitempty"`
	RequestTimeout time.Duration `json:"requestTimeout,omitempty"`
	MaxRetries     int           `json:"maxRetries,omitempty" validate:"gte=0"`
}

// VirtualToolOp is one step of a virtual tool recipe (spec §4.E). When is an
// optional gval boolean expression evaluated against the substitution
// context before the step runs; a false result skips the step without
// aborting the recipe.
type VirtualToolOp struct {
	Tool string         `json:"tool" validate:"required"`
	Args map[string]any `json:"args,omitempty"`
	When string         `json:"when,omitempty"`
}

// VirtualToolConfig defines a composite tool executed by the virtual-tool engine.
type VirtualToolConfig struct {
	ID          string          `json:"id" validate:"required"`
	Description string          `json:"description,omitempty"`
	InputSchema map[string]any  `json:"inputSchema,omitempty"`
	Ops         []VirtualToolOp `json:"ops" validate:"required,min=1,dive"`
	StopOnError *bool           `json:"stopOnError,omitempty"`
}

// GatewayOptions are gateway-wide network settings.
type GatewayOptions struct {
	Host string `json:"host" validate:"required,hostname|ip"`
	Port int    `json:"port" validate:"required,min=1,max=65535"`
}

// Policies are cross-cutting enforcement knobs applied by the Router.
type Policies struct {
	OutputSizeLimit int `json:"outputSizeLimit" validate:"gte=0"`
	DefaultTimeout  int `json:"defaultTimeout" validate:"gt=0"` // milliseconds
	ShutdownTimeout int `json:"shutdownTimeout,omitempty"`      // milliseconds
}

// DefaultPolicies matches spec §4.A's stated defaults.
func DefaultPolicies() Policies {
	return Policies{
		OutputSizeLimit: 65_536,
		DefaultTimeout:  30_000,
		ShutdownTimeout: 10_000,
	}
}

// AuthConfig is the "simple API-key gate" named in spec §1.
type AuthConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// LoggingConfig controls where gateway logs are written.
type LoggingConfig struct {
	FilePath string `json:"filePath,omitempty"`
	Verbose  bool   `json:"verbose,omitempty"`
}

// StreamableHTTPConfig tunes the streamable-HTTP inbound wire adapter.
type StreamableHTTPConfig struct {
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	Stateless       bool   `json:"stateless,omitempty"`
}

// Snapshot is the immutable config value described by spec §3 "Config
// snapshot". Two snapshots can be Diff'd; the current snapshot is swapped
// atomically by the loader.
type Snapshot struct {
	Gateway        GatewayOptions        `json:"gateway" validate:"required"`
	Servers        []ServerConfig        `json:"servers" validate:"dive"`
	VirtualTools   []VirtualToolConfig   `json:"virtualTools,omitempty" validate:"dive"`
	Policies       Policies              `json:"policies" validate:"required"`
	Auth           AuthConfig            `json:"auth,omitempty"`
	Logging        LoggingConfig         `json:"logging,omitempty"`
	StreamableHTTP *StreamableHTTPConfig `json:"streamableHttp,omitempty"`
}

// ServerNames returns the names of all enabled servers, in config order.
func (s *Snapshot) ServerNames() []string {
	var names []string
	for _, sc := range s.Servers {
		if sc.Enabled {
			names = append(names, sc.Name)
		}
	}
	return names
}

// Find looks up a server by name, enabled or not.
func (s *Snapshot) Find(name string) (*ServerConfig, bool) {
	for i := range s.Servers {
		if s.Servers[i].Name == name {
			return &s.Servers[i], true
		}
	}
	return nil, false
}

// Default returns the built-in configuration used when no config file is
// found at the default path (spec §4.A: NotFound on the default path is a
// warning, not a fatal error).
func Default() *Snapshot {
	return &Snapshot{
		Gateway:  GatewayOptions{Host: "localhost", Port: 8080},
		Policies: DefaultPolicies(),
	}
}

package pool

import (
	"time"

	"github.com/nullrunner/mcp-gateway/pkg/config"
)

// Descriptor is the immutable upstream descriptor of spec §3, derived from
// config and handed to the pool. It never changes for the lifetime of a
// connection; a config update produces a new Descriptor and a new connection.
type Descriptor struct {
	ID             string
	Transport      config.Transport
	Command        string
	Args           []string
	Env            []string
	URL            string
	Headers        map[string]string
	Mode           config.Mode
	Enabled        bool
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
}

// FromServerConfig builds a Descriptor from a validated config.ServerConfig.
func FromServerConfig(sc config.ServerConfig) Descriptor {
	return Descriptor{
		ID:             sc.Name,
		Transport:      sc.Transport,
		Command:        sc.Command,
		Args:           sc.Args,
		Env:            sc.Env,
		URL:            sc.URL,
		Headers:        sc.Headers,
		Mode:           sc.Mode,
		Enabled:        sc.Enabled,
		ConnectTimeout: sc.ConnectTimeout,
		RequestTimeout: sc.RequestTimeout,
		MaxRetries:     sc.MaxRetries,
	}
}

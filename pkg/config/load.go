package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/nullrunner/mcp-gateway/pkg/gwerrors"
	"github.com/nullrunner/mcp-gateway/pkg/log"
)

var serverNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{2,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("servername", func(fl validator.FieldLevel) bool {
		return serverNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// DefaultPath returns the OS-standard per-user config file location, the
// default the loader uses when no --config flag is supplied (spec §6).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mcp-gateway", "config.json")
}

// Load parses, validates, and returns an immutable config snapshot.
//
// On the default path, a missing file yields the built-in default snapshot
// and a logged warning rather than an error (spec §4.A). On an explicitly
// supplied path, every failure mode is fatal to the caller.
func Load(path string, isDefaultPath bool) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && isDefaultPath {
			log.Logf("config: %s not found, using built-in defaults", path)
			return Default(), nil
		}
		return nil, gwerrors.Wrap(gwerrors.KindConfigError, "reading config file", err)
	}
	return Parse(data)
}

// Parse decodes and validates a config document already in memory.
func Parse(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindConfigError, "parsing config JSON", err)
	}

	if err := Validate(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Validate applies the enumerated validation rules of spec §4.A on top of
// the struct-tag validation handled by go-playground/validator.
func Validate(snap *Snapshot) error {
	if snap.Policies == (Policies{}) {
		snap.Policies = DefaultPolicies()
	}

	if err := validate.Struct(snap); err != nil {
		return gwerrors.Wrap(gwerrors.KindConfigError, "validating config", err)
	}

	seen := make(map[string]bool, len(snap.Servers))
	for _, sc := range snap.Servers {
		if seen[sc.Name] {
			return gwerrors.New(gwerrors.KindConfigError, fmt.Sprintf("duplicate server name %q", sc.Name))
		}
		seen[sc.Name] = true

		switch sc.Transport {
		case TransportStdio:
			if sc.Command == "" {
				return gwerrors.New(gwerrors.KindConfigError, fmt.Sprintf("server %q: stdio transport requires command", sc.Name))
			}
		case TransportHTTP, TransportSSE, TransportStreamableHTTP:
			if sc.URL == "" {
				return gwerrors.New(gwerrors.KindConfigError, fmt.Sprintf("server %q: %s transport requires url", sc.Name, sc.Transport))
			}
		}
	}

	for _, vt := range snap.VirtualTools {
		if len(vt.Ops) == 0 {
			return gwerrors.New(gwerrors.KindConfigError, fmt.Sprintf("virtual tool %q: must have at least one op", vt.ID))
		}
	}

	return nil
}

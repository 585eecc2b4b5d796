// Package registry loads the static catalog of known MCP tool servers.
package registry

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rowanlm/mcphub/internal/domain"
)

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// OAuthConfig describes the authorization endpoints of a remote server.
type OAuthConfig struct {
	Provider     string   `yaml:"provider"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	RedirectURL  string   `yaml:"redirect_url"`
}

// ServerConfig describes one known tool server. Immutable after load.
type ServerConfig struct {
	ID        string            `yaml:"-"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	OAuth     *OAuthConfig      `yaml:"oauth,omitempty"`
}

// Authorized reports whether connections to this server carry a per-user
// credential and therefore must not be shared across owners.
func (c *ServerConfig) Authorized() bool {
	return c.OAuth != nil
}

// Clone returns a deep copy so callers can never mutate the registry's view.
func (c *ServerConfig) Clone() *ServerConfig {
	out := *c
	out.Args = append([]string(nil), c.Args...)
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	if c.OAuth != nil {
		oa := *c.OAuth
		oa.Scopes = append([]string(nil), c.OAuth.Scopes...)
		out.OAuth = &oa
	}
	return &out
}

type document struct {
	Servers map[string]*ServerConfig `yaml:"servers"`
}

// Registry is the loaded, read-only server catalog.
type Registry struct {
	servers map[string]*ServerConfig
}

// Load reads and parses the registry document at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Reason: fmt.Sprintf("read registry %s", path), Err: err}
	}
	return Parse(data)
}

// Parse parses a registry document, expanding ${NAME} placeholders against
// the process environment exactly once. A placeholder naming an unset
// variable is an error: connecting with silently-empty arguments is worse
// than failing at load.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &domain.ConfigError{Reason: "parse registry document", Err: err}
	}
	if len(doc.Servers) == 0 {
		return nil, &domain.ConfigError{Reason: "registry document defines no servers"}
	}

	for id, cfg := range doc.Servers {
		cfg.ID = id
		if err := expandConfig(cfg); err != nil {
			return nil, err
		}
		if err := validate(cfg); err != nil {
			return nil, err
		}
	}

	return &Registry{servers: doc.Servers}, nil
}

// Get returns a copy of the named server's configuration.
func (r *Registry) Get(id string) (*ServerConfig, error) {
	cfg, ok := r.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	return cfg.Clone(), nil
}

// IDs returns all known server identifiers.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	return ids
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expand(serverID, value string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(value, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", &domain.ConfigError{
			Server: serverID,
			Reason: fmt.Sprintf("unresolved placeholder ${%s}", strings.Join(missing, "}, ${")),
		}
	}
	return out, nil
}

func expandConfig(cfg *ServerConfig) error {
	var err error
	if cfg.Command, err = expand(cfg.ID, cfg.Command); err != nil {
		return err
	}
	for i, a := range cfg.Args {
		if cfg.Args[i], err = expand(cfg.ID, a); err != nil {
			return err
		}
	}
	for k, v := range cfg.Env {
		if cfg.Env[k], err = expand(cfg.ID, v); err != nil {
			return err
		}
	}
	if cfg.URL, err = expand(cfg.ID, cfg.URL); err != nil {
		return err
	}
	if cfg.OAuth != nil {
		oa := cfg.OAuth
		for _, f := range []*string{&oa.ClientID, &oa.ClientSecret, &oa.AuthURL, &oa.TokenURL, &oa.RedirectURL} {
			if *f, err = expand(cfg.ID, *f); err != nil {
				return err
			}
		}
	}
	return nil
}

func validate(cfg *ServerConfig) error {
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return &domain.ConfigError{Server: cfg.ID, Reason: "command is required for stdio transport"}
		}
		if cfg.OAuth != nil {
			return &domain.ConfigError{Server: cfg.ID, Reason: "oauth is not supported on stdio transport"}
		}
	case TransportHTTP:
		if cfg.URL == "" {
			return &domain.ConfigError{Server: cfg.ID, Reason: "url is required for http transport"}
		}
		if cfg.OAuth != nil {
			oa := cfg.OAuth
			if oa.ClientID == "" || oa.AuthURL == "" || oa.TokenURL == "" {
				return &domain.ConfigError{Server: cfg.ID, Reason: "oauth requires client_id, auth_url and token_url"}
			}
		}
	case "":
		return &domain.ConfigError{Server: cfg.ID, Reason: "transport is required"}
	default:
		return &domain.ConfigError{Server: cfg.ID, Reason: fmt.Sprintf("unknown transport %q", cfg.Transport)}
	}
	return nil
}

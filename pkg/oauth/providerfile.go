package oauth

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// providerEntry is one [[provider]] table. Endpoint roles are keyed by name
// so that any spelling accepted by ParseEndpointRole works.
type providerEntry struct {
	ProviderConfig
	Endpoints map[string]Endpoint `toml:"endpoints"`
}

type providerFile struct {
	Providers []providerEntry `toml:"provider"`
}

// LoadProviderFile reads provider definitions from a TOML file.
func LoadProviderFile(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders decodes TOML provider definitions. Entries naming a
// template are merged over it, and every entry is validated.
//
//	[[provider]]
//	id = "github"
//	template = "github"
//	redirect_uri = "http://localhost:8080/auth/github/callback"
//	[provider.oauth2]
//	client_id = "..."
//	client_secret = "..."
//	[provider.endpoints.service]
//	url = "https://api.github.com"
func ParseProviders(data []byte) ([]ProviderConfig, error) {
	var file providerFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode provider file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Providers))
	cfgs := make([]ProviderConfig, 0, len(file.Providers))
	for i, entry := range file.Providers {
		cfg := entry.ProviderConfig
		if len(entry.Endpoints) > 0 {
			cfg.Endpoints = make(map[EndpointRole]Endpoint, len(entry.Endpoints))
			for name, ep := range entry.Endpoints {
				role, err := ParseEndpointRole(name)
				if err != nil {
					return nil, fmt.Errorf("provider %d: %w", i, err)
				}
				cfg.Endpoints[role] = ep
			}
		}

		if cfg.Template != "" {
			merged, err := MergeTemplate(cfg.Template, cfg)
			if err != nil {
				return nil, fmt.Errorf("provider %d: %w", i, err)
			}
			cfg = merged
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("provider %d: duplicate id %q", i, cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

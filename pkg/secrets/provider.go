package secrets

import "context"

// Provider defines a generic secrets manager interface.
// Concrete implementations (AWS, GCP, etc.) can satisfy this.
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}

// StaticProvider serves secrets from memory. Used in tests and local runs
// where AWS is not reachable.
type StaticProvider map[string]map[string]string

// GetSecret implements Provider.
func (p StaticProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	s, ok := p[key]
	if !ok {
		return nil, ErrSecretNotFound
	}
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

package types

import "log/slog"

// CredentialsKind selects how a ModelProvider's API key/token resolves at
// request time (§4.C).
type CredentialsKind string

const (
	CredentialsKindStatic      CredentialsKind = "static"
	CredentialsKindDynamic     CredentialsKind = "dynamic"
	CredentialsKindWithFallback CredentialsKind = "with_fallback"
	CredentialsKindNone        CredentialsKind = "none"
)

// Credentials describes a provider credential chain: Static → Dynamic(named
// runtime key) → WithFallback(default, fallback) → None.
type Credentials struct {
	Kind     CredentialsKind
	Static   string // literal secret value, Kind == Static
	KeyName  string // named runtime credential, Kind == Dynamic or WithFallback default
	Fallback *Credentials // Kind == WithFallback only
}

// DynamicCredentialSource resolves a named runtime credential. Embedders
// supply a concrete implementation backed by their secret store; this
// module only defines the resolution chain (spec §1 Non-goals: no
// credential-store implementation).
type DynamicCredentialSource interface {
	Resolve(name string) (string, bool)
}

// Resolve walks the credential chain, returning the literal secret value.
// WithFallback logs a warning and returns the fallback credential
// unconditionally on default lookup failure; whether to retry the default
// after a cooldown is an open question left to the embedder (design notes).
func (c Credentials) Resolve(src DynamicCredentialSource) (string, error) {
	switch c.Kind {
	case CredentialsKindStatic:
		return c.Static, nil
	case CredentialsKindDynamic:
		if src == nil {
			return "", errNoDynamicSource
		}
		v, ok := src.Resolve(c.KeyName)
		if !ok {
			return "", errCredentialNotFound(c.KeyName)
		}
		return v, nil
	case CredentialsKindWithFallback:
		if src != nil {
			if v, ok := src.Resolve(c.KeyName); ok {
				return v, nil
			}
		}
		slog.Warn("model provider credential fallback engaged", "key_name", c.KeyName)
		if c.Fallback == nil {
			return "", errNoDynamicSource
		}
		return c.Fallback.Resolve(src)
	case CredentialsKindNone:
		return "", nil
	default:
		return "", errUnknownCredentialsKind(c.Kind)
	}
}

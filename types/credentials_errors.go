package types

import (
	"fmt"

	"github.com/tzgateway/gateway/tzerr"
)

var errNoDynamicSource = tzerr.New(tzerr.KindInvalidProviderConfig, "no dynamic credential source configured", nil, nil)

func errCredentialNotFound(name string) error {
	return tzerr.New(tzerr.KindAPIKeyMissing, fmt.Sprintf("dynamic credential %q not found", name), nil, map[string]any{"key_name": name})
}

func errUnknownCredentialsKind(k CredentialsKind) error {
	return tzerr.New(tzerr.KindInvalidProviderConfig, fmt.Sprintf("unknown credentials kind %q", k), nil, nil)
}

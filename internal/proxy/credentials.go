package proxy

import (
	"strings"

	"github.com/desertthunder/evpn/internal/models"
)

// DefaultCredentials authenticate against the general endpoint pool.
var DefaultCredentials = models.Credentials{Username: "eeagle-vpn-root-user", Password: "Pakistan@1234"}

// CredentialTable maps endpoint hosts to the credentials they require.
// Hosts not in Overrides use Default.
type CredentialTable struct {
	Default   models.Credentials
	Overrides map[string]models.Credentials
}

// DefaultTable is the built-in lookup table.
var DefaultTable = CredentialTable{
	Default: DefaultCredentials,
	Overrides: map[string]models.Credentials{
		"ny-1-eeagle.duckdns.org": {Username: "myuser", Password: "mypassword"},
	},
}

// Derive returns the credentials for host. Host matching ignores case.
func (t CredentialTable) Derive(host string) models.Credentials {
	if c, ok := t.Overrides[strings.ToLower(strings.TrimSpace(host))]; ok {
		return c
	}
	return t.Default
}

// DeriveCredentials looks host up in [DefaultTable].
func DeriveCredentials(host string) models.Credentials {
	return DefaultTable.Derive(host)
}

package config

import (
	"fmt"
	"sort"
)

// ScriptDefaults holds the hook switches every capture script starts from.
// "libs" lists the module name fragments the script attaches to.
var ScriptDefaults = map[string]map[string]any{
	"winsock": {
		"libs":        []any{"ws2_32.dll", "wsock32.dll"},
		"send":        true,
		"sendto":      true,
		"recv":        true,
		"recvfrom":    true,
		"WSASend":     true,
		"WSASendTo":   true,
		"WSARecv":     true,
		"WSARecvFrom": true,
		"shutdown":    true,
		"closesocket": true,
	},
	"libc": {
		"libs":     []any{"libc.so"},
		"send":     true,
		"sendto":   true,
		"recv":     true,
		"recvfrom": true,
		"shutdown": true,
		"close":    true,
	},
	"openssl": {
		"libs":         []any{"libssl", "openssl", "ssleay", "libeay", "libcrypto"},
		"SSL_write":    true,
		"SSL_write_ex": true,
		"SSL_read":     true,
		"SSL_read_ex":  true,
		"SSL_shutdown": true,
	},
	"gnutls": {
		"libs":               []any{"gnutls"},
		"gnutls_record_send": true,
		"gnutls_record_recv": true,
		"gnutls_bye":         true,
	},
	"schannel": {
		"libs":           []any{"Secur32.dll"},
		"EncryptMessage": true,
		"DecryptMessage": true,
	},
}

// ScriptTypes lists the known script names, sorted.
func ScriptTypes() []string {
	names := make([]string, 0, len(ScriptDefaults))
	for name := range ScriptDefaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveScripts returns the configured scripts with user settings laid over
// each script's defaults. Overrides replace top-level keys only.
func (c *Config) ResolveScripts() ([]ScriptConfig, error) {
	out := make([]ScriptConfig, 0, len(c.Scripts))
	for _, s := range c.Scripts {
		defaults, ok := ScriptDefaults[s.Type]
		if !ok {
			return nil, fmt.Errorf("script %q not found", s.Type)
		}
		merged := Clone(defaults)
		for k, v := range s.Config {
			merged[k] = cloneValue(v)
		}
		out = append(out, ScriptConfig{Type: s.Type, Config: merged})
	}
	return out, nil
}

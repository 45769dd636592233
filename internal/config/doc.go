// Package config loads the client configuration: gateway endpoint and
// token, sync engine tuning, and logging. The native format is TOML at the
// XDG config path; YAML files are accepted so a gateway-format config can
// be pointed at directly.
package config

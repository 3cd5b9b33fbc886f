// Package config handles configuration loading for certgate.
//
// # Overview
//
// Configuration is loaded once at startup from a YAML or TOML file (chosen by
// the .toml extension) and handed to every component as an immutable value.
// When no file exists, FromEnv builds the same structure from environment
// variables alone.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CERTGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/certgate/gateway.yaml
//  3. ~/.config/certgate/gateway.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	captcha:
//	  secret: "${RECAPTCHA_SECRET_KEY}"
//
// # Environment Overrides
//
// These variables win over file values when set:
//
//   - GRPC_AUTH_SERVICE_HOST: backend.address
//   - AUTH_SERVICE_HOST: auth_service.host
//   - RECAPTCHA_SECRET_KEY: captcha.secret
//   - RECAPTCHA_SITE_KEY: captcha.site_key
//   - CERTGATE_HTTP_ADDR: server.http_addr
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//	  trust_proxy_headers: false
//	  read_header_timeout: "10s"
//
//	backend:
//	  address: "https://auth.example.com:443"  # https:// selects TLS
//	  connection: "shared"                     # shared, per_request
//	  rpc_timeout: "5s"
//	  connect_timeout: "5s"
//
//	auth_service:
//	  host: "https://login.example.com"
//
//	captcha:
//	  secret: "${RECAPTCHA_SECRET_KEY}"
//	  site_key: "${RECAPTCHA_SITE_KEY}"
//	  verify_url: "https://www.google.com/recaptcha/api/siteverify"
//	  timeout: "5s"
//	  replay_ttl: "5m"
//
//	protected:
//	  resource_url: "https://example.com/certificate.png"
//
//	tailscale:
//	  enabled: false
//	  hostname: "certgate"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// An empty backend address or captcha secret does not stop startup. The
// affected routes fail closed on every request instead.
package config

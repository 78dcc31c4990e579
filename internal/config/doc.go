// Package config handles configuration loading for courier-gateway.
//
// # Overview
//
// Configuration is loaded from YAML with environment variable expansion,
// defaults, and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COURIER_CONFIG environment variable
//  2. ~/.config/courier/gateway.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR} syntax:
//
//	auth:
//	  jwt_secret: "${COURIER_JWT_SECRET}"
//
// # Sections
//
// Server and database:
//
//	server:
//	  http_addr: "localhost:8080"
//	database:
//	  path: "~/.local/share/courier/courier.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${COURIER_JWT_SECRET}"  # required
//	  token_ttl: "24h"
//
// Messaging:
//
//	messaging:
//	  max_content_length: 4096  # bytes per message
//	  session_buffer: 64        # queued pushes per connection
//
// Tailscale (optional; replaces the TCP listener):
//
//	tailscale:
//	  enabled: true
//	  hostname: "courier"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load validates that an HTTP address is set unless Tailscale is enabled,
// that Tailscale has a hostname when enabled, and that the database path
// and JWT secret are present. Duration strings use time.ParseDuration
// syntax.
package config

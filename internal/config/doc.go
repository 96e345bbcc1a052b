// Package config handles configuration loading for gatekeeper.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file. YAML and TOML content
// may reference environment variables, which are expanded before parsing:
//
//	database:
//	  dsn: "${GATEKEEPER_DSN}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax or a bare number of
// seconds:
//
//	hawk:
//	  expire: "60s"
//	cache:
//	  ttl: 300
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # optional
//	  shutdown_timeout: "10s"
//
//	auth:
//	  mechanisms: [hawk, basic, bearer]   # challenge order
//
//	hawk:
//	  algorithms: [sha256, sha512]
//	  expire: 60
//	  backend: file            # file, database, cache
//	  nonce_dir: "/var/lib/gatekeeper"
//	  sign_responses: true
//	  disclose: false
//
//	basic:
//	  realm: "gatekeeper"
//
//	jwt:
//	  claims: [aud, iss]
//	  aud: [gatekeeper]
//	  iss: [gatekeeper]
//	  grace: 5
//
//	users:
//	  backend: file            # file, config, database
//	  dir: "/etc/gatekeeper/users"
//
//	acl:
//	  enable: true
//	  backend: file            # file, database
//	  default_policy: deny     # deny, allow
//	  dir: "/etc/gatekeeper/acl"
//
//	cache:
//	  backend: memory          # none, memory, leveldb
//	  ttl: "5m"
//	  parts: [acl, users]
//
//	database:
//	  driver: sqlite           # sqlite, postgres
//	  dsn: "/var/lib/gatekeeper/gatekeeper.db"
//
//	routes:
//	  - method: GET
//	    path: /example
//	    controller: ExampleController
//	    action: getAction
//
// # Validation
//
// Load validates backend names, hash algorithms, the ACL default policy, and
// that every backend has the settings it depends on. The first failure is
// returned.
package config

// Package config loads dispatch settings with viper.
//
// Settings come from defaults, an optional YAML/TOML/JSON file and
// DISPATCH_ environment variables, in increasing precedence. Nested keys
// map to variables by replacing dots with underscores:
//
//	router.cache.ttl          DISPATCH_ROUTER_CACHE_TTL=30s
//	log.level                 DISPATCH_LOG_LEVEL=debug
//
// The decoded Config converts into the option sets of the tools,
// routing and composition packages.
package config

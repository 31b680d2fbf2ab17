// Package config loads the two configuration layers of the installer.
//
// BaseAttributes identify the application. They are bundled into the binary
// as bootstrap.toml, read through viper, and may be overridden from the
// environment with the ZINSTALL_ prefix. They never change after startup.
//
// The manifest (Config) is fetched from BaseAttributes.TargetURL. It is TOML
// on the wire and JSON towards the UI. Packages in the manifest may carry a
// Lua condition that is evaluated in a sandboxed VM with a read-only
// platform table:
//
//	[[packages]]
//	name = "engine-linux"
//	condition = "platform.is_linux and platform.arch == 'amd64'"
//
// A Config is never mutated after parsing. Refreshing the manifest replaces
// it wholesale.
package config

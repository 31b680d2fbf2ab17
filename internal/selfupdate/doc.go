// Package selfupdate replaces the running maintenance tool with a newer
// build.
//
// The protocol spans two processes. The running tool downloads the new
// build next to itself as maintenancetool_new, records its own command line
// in args.json and starts the new build with --swap <current exe>. The new
// build waits for the old process to exit, moves itself over the old path
// and starts it. The restarted tool consumes args.json exactly once and
// removes the leftover maintenancetool_new.
//
// All filesystem access goes through afero so the retry behaviour can be
// exercised against a filesystem that fails on demand.
package selfupdate

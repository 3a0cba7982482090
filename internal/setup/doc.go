// Package setup loads the user settings file and provides the defaults the
// command line falls back to.
//
// Settings resolve in order of precedence: built-in defaults, the settings
// file, environment variables and finally command line flags, which are
// applied by the caller. This package is the only one allowed to use a
// package-level logger.
package setup

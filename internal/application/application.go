// Package application holds identity constants shared across the tool.
package application

const (
	// AppName is the application name used for identification and logging
	AppName = "bbsync"

	// AppExeName is the executable name (without extension)
	AppExeName = "bbsync"

	// EnvFileName is the default backing file name, resolved against the
	// current working directory unless overridden with --env-file.
	EnvFileName = ".env"

	// Version is the release version reported by --version.
	Version = "0.3.0"
)

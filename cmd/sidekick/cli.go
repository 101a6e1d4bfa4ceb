// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Chat     ChatCmd     `cmd:"" default:"1" help:"Start an interactive chat session"`
	Sessions SessionsCmd `cmd:"" help:"List stored sessions"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// ChatCmd starts the interactive loop.
type ChatCmd struct {
	Config   string `short:"c" default:"sidekick.toml" help:"Config file path"`
	Criteria string `help:"Success criteria applied to every message (overridable with /criteria)"`
	Resume   string `help:"Resume a stored session by id"`
	Verbose  bool   `short:"v" help:"Enable debug logging"`
}

// SessionsCmd lists stored sessions.
type SessionsCmd struct {
	Config string `short:"c" default:"sidekick.toml" help:"Config file path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

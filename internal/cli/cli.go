// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line parsing and dispatch for rigchat.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdServe
	CmdChat
	CmdModels
	CmdVersion
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Server     string
	Token      string
	JSON       bool
	Quiet      bool

	// chat
	ChatID   int64
	UserID   int64
	Model    string
	Modality string

	// models
	Filter string

	// Name is the command as typed, for error messages
	Name string
}

const usageText = `rigchat - streaming AI chat server

Usage:
  rigchat serve [--config PATH]          Run the API server
  rigchat chat [flags]                   Interactive chat against a server
  rigchat models [text|image]            List supported models
  rigchat version                        Show version information
  rigchat help                           Show this help

Serve flags:
  -c, --config PATH     Config file (default: ~/.rigchat/config.toml)

Chat flags:
  --chat ID             Continue an existing chat
  --user ID             User id (default: 1)
  -m, --model NAME      Model for a new chat
  --modality TYPE       text or image (default: text)

Client flags (chat, models):
  -s, --server URL      Server URL (default: http://127.0.0.1:8787,
                        or RIGCHAT_SERVER)
  --token TOKEN         API token (or RIGCHAT_API_TOKEN)
  --json                JSON output (models)
  -q, --quiet           Minimal output

Environment:
  TEXT_GENERATION_URL   Ollama base URL
  IMAGE_GENERATION_URL  Image service endpoint
  IMAGE_GENERATION_AUTH_TOKEN
  RIGCHAT_*             See the [server], [storage], [stream] and [workers]
                        sections of the config file
`

// boolFlags never take a value.
var boolFlags = []string{"json", "quiet", "q", "help", "h"}

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigchat %s\n", Version)
	fmt.Fprintf(w, "  commit:  %s\n", GitCommit)
	fmt.Fprintf(w, "  built:   %s\n", BuildDate)
	fmt.Fprintf(w, "  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses os.Args.
func Parse() (Command, Args, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv without the program name.
func ParseArgs(argv []string) (Command, Args, error) {
	args := Args{
		Server: os.Getenv("RIGCHAT_SERVER"),
		Token:  os.Getenv("RIGCHAT_API_TOKEN"),
	}
	if len(argv) == 0 {
		return CmdHelp, args, nil
	}

	name := strings.ToLower(argv[0])
	args.Name = name
	p := NewArgParser(argv[1:], boolFlags...)

	if p.BoolFlag("help", "h") {
		return CmdHelp, args, nil
	}

	var err error
	if args.ConfigPath, err = p.Value("config", "c"); err != nil {
		return CmdUnknown, args, err
	}
	if v, err := p.Value("server", "s"); err != nil {
		return CmdUnknown, args, err
	} else if v != "" {
		args.Server = v
	}
	if v, err := p.Value("token"); err != nil {
		return CmdUnknown, args, err
	} else if v != "" {
		args.Token = v
	}
	args.JSON = p.BoolFlag("json")
	args.Quiet = p.BoolFlag("quiet", "q")

	switch name {
	case "serve", "server":
		return CmdServe, args, nil

	case "chat":
		if args.ChatID, err = p.FlagInt64("chat"); err != nil {
			return CmdChat, args, err
		}
		if args.UserID, err = p.FlagInt64("user"); err != nil {
			return CmdChat, args, err
		}
		if args.Model, err = p.Value("model", "m"); err != nil {
			return CmdChat, args, err
		}
		if args.Modality, err = p.Value("modality"); err != nil {
			return CmdChat, args, err
		}
		return CmdChat, args, nil

	case "models":
		args.Filter = p.Positional(0)
		return CmdModels, args, nil

	case "version", "--version", "-v":
		return CmdVersion, args, nil

	case "help", "--help", "-h":
		return CmdHelp, args, nil
	}
	return CmdUnknown, args, &ValidationError{Field: "command", Value: argv[0], Reason: "unknown command (see: rigchat help)"}
}

// Run dispatches a parsed command.
func Run(cmd Command, args Args) error {
	switch cmd {
	case CmdServe:
		return HandleServe(args)
	case CmdChat:
		return HandleChat(args)
	case CmdModels:
		return HandleModels(args, os.Stdout)
	case CmdVersion:
		PrintVersion(os.Stdout)
		return nil
	default:
		PrintUsage(os.Stdout)
		return nil
	}
}

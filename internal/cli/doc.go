// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the commands of rigchat.
//
// # Commands
//
//   - serve: load the configuration and run the API server, the task
//     workers, the event hub and the optional Redis relay (App)
//   - chat: interactive terminal client; queues prompts over HTTP, follows
//     the answer over the event stream and renders the final markdown
//   - models: list the supported models per chat type
//   - version, help
//
// # Usage
//
//	cmd, args, err := cli.Parse()
//	if err == nil {
//	    err = cli.Run(cmd, args)
//	}
//	os.Exit(cli.GetExitCode(err))
package cli

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama chat API, the
// text producer behind text chats.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role and content
//   - StreamReader: Pull-based reader over the NDJSON response stream
//   - ClientError: Typed error carrying an ErrorType for classification
//
// # Usage
//
// Open a stream and drain it:
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	stream, err := client.Stream(ctx, "llama3.1", turns)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    frag, err := stream.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(frag.Text)
//	}
package ollama

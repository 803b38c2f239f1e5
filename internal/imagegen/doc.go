// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package imagegen provides the HTTP client for the image generation
// service behind image chats.
//
// The service accepts a JSON body {prompt, model_type, width, height} and
// answers with either raw image bytes or JSON {"images": ["<base64>"]}.
// Both shapes are decoded.
//
// # Key Types
//
//   - Client: Implements producer.ImageProducer
//   - StatusError: Non-2xx answer with the status and a truncated body
//   - DecodeError: Successful answer that carried no usable image
//
// # Usage
//
//	client := imagegen.NewClient(imagegen.Config{URL: url, AuthToken: token})
//	img, err := client.Generate(ctx, producer.ImageRequest{Prompt: p, Model: "sdxl-turbo"})
package imagegen

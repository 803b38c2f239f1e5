// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - The "models" command.
//
// Command: models
// Short:   List the models a chat can use
//
// Examples:
//   rigchat models             All models
//   rigchat models image       Image models only
//   rigchat models --json      JSON output

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// HandleModels lists models from the server.
func HandleModels(args Args, w io.Writer) error {
	if args.Filter != "" {
		if _, err := model.ParseModality(args.Filter); err != nil {
			return &ValidationError{Field: "modality", Value: args.Filter, Reason: "must be text or image"}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	infos, err := NewClient(args.Server, args.Token).Models(ctx, args.Filter)
	if err != nil {
		return err
	}

	if args.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	printModels(w, infos, GetTerminalWidth())
	return nil
}

// printModels prints one line per model grouped by modality, with the
// default model marked.
func printModels(w io.Writer, infos []model.ModelInfo, width int) {
	if len(infos) == 0 {
		fmt.Fprintln(w, render(DimStyle, "No models."))
		return
	}

	idWidth := 0
	for _, info := range infos {
		if n := util.StringWidth(info.ID); n > idWidth {
			idWidth = n
		}
	}

	var current model.Modality = -1
	for _, info := range infos {
		if info.Modality != current {
			if current != -1 {
				fmt.Fprintln(w)
			}
			current = info.Modality
			fmt.Fprintln(w, render(TitleStyle.MarginBottom(0), strings.ToUpper(current.String())+" MODELS"))
		}

		marker := " "
		if info.ID == model.DefaultModel(info.Modality) {
			marker = "*"
		}
		pad := strings.Repeat(" ", idWidth-util.StringWidth(info.ID))
		desc := util.TruncateWidth(info.Name+" - "+info.Description, width-idWidth-6)
		fmt.Fprintf(w, "%s %s%s  %s\n", marker, render(ValueStyle, info.ID), pad, render(DimStyle, desc))
	}
	fmt.Fprintln(w, render(DimStyle, "\n* default"))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing shared by all rigchat commands.

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser splits raw arguments into flags and positionals.
// It handles:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (listed in boolNames, never consume a value)
//   - Positional arguments: anything else
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
}

// NewArgParser parses raw. Flags named in boolNames never take a value, so
// "--json text" keeps "text" as a positional.
//
// Example:
//
//	p := NewArgParser([]string{"image", "--server", "http://host:8787", "--json"}, "json")
//	p.Positional(0)      // "image"
//	p.Flag("server")     // "http://host:8787"
//	p.BoolFlag("json")   // true
func NewArgParser(raw []string, boolNames ...string) *ArgParser {
	isBool := make(map[string]bool, len(boolNames))
	for _, n := range boolNames {
		isBool[n] = true
	}

	p := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(name, "="); ok {
			if isBool[k] {
				b, err := ParseBoolString(v)
				p.boolFlags[k] = err == nil && b
			} else {
				p.flags[k] = v
			}
			continue
		}

		if !isBool[name] && i+1 < len(raw) && isValue(raw[i+1]) {
			p.flags[name] = raw[i+1]
			i++
			continue
		}
		p.boolFlags[name] = true
	}
	return p
}

// isValue reports whether next can be the value of a preceding flag.
// Negative numbers are values, not flags.
func isValue(next string) bool {
	if !strings.HasPrefix(next, "-") || next == "-" {
		return true
	}
	_, err := strconv.ParseFloat(next, 64)
	return err == nil
}

// Flag returns the value of the first of names that was given.
func (p *ArgParser) Flag(names ...string) string {
	for _, n := range names {
		if v, ok := p.flags[n]; ok {
			return v
		}
	}
	return ""
}

// Value is Flag for flags that need a value: one given bare ("--model"
// at the end, or followed by another flag) is a ValidationError.
func (p *ArgParser) Value(names ...string) (string, error) {
	for _, n := range names {
		if v, ok := p.flags[n]; ok {
			return v, nil
		}
		if p.boolFlags[n] {
			return "", &ValidationError{Field: "--" + names[0], Reason: "requires a value"}
		}
	}
	return "", nil
}

// FlagInt64 returns a positive integer flag, 0 when it is absent.
func (p *ArgParser) FlagInt64(names ...string) (int64, error) {
	raw, err := p.Value(names...)
	if err != nil || raw == "" {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, &ValidationError{Field: "--" + names[0], Value: raw, Reason: "must be a positive integer"}
	}
	return v, nil
}

// BoolFlag reports whether any of names was set.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, n := range names {
		if p.boolFlags[n] {
			return true
		}
	}
	return false
}

// HasFlag returns true if the flag exists as either kind.
func (p *ArgParser) HasFlag(name string) bool {
	_, s := p.flags[name]
	_, b := p.boolFlags[name]
	return s || b
}

// Positional returns the positional at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positionals starting at index.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return nil
	}
	return p.positional[index:]
}

// ParseBoolString parses true/false, yes/no, y/n, 1/0 and on/off.
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

// Package echo is a small built-in module used as a reference for module
// authors and by the CLI for smoke testing an installation.
package echo

import (
	"context"
	"fmt"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/module"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/sandbox"
)

// Name is the module id the factory registers under.
const Name = "echo"

// ManifestYAML is the package manifest for the built-in install.
const ManifestYAML = `
name: echo
version: 1.0.0
description: Echoes input and remembers short notes.
minCoreVersion: 1.0.0
permissions:
  - log:write
  - storage:read
  - storage:write
`

// Factory builds the echo module definition.
func Factory() (*module.Definition, error) {
	return &module.Definition{
		Tools: []module.Tool{
			{
				Name:        "echo",
				Description: "Returns the given text unchanged.",
				InputSchema: map[string]any{
					"type":     "object",
					"required": []any{"text"},
					"properties": map[string]any{
						"text": map[string]any{"type": "string"},
					},
				},
				Run: func(ctx context.Context, sc *sandbox.Context, input map[string]any) (any, error) {
					text, _ := input["text"].(string)
					return text, nil
				},
			},
			{
				Name:        "remember",
				Description: "Stores a note under a key.",
				InputSchema: map[string]any{
					"type":     "object",
					"required": []any{"key", "note"},
					"properties": map[string]any{
						"key":  map[string]any{"type": "string"},
						"note": map[string]any{"type": "string"},
					},
				},
				Run: func(ctx context.Context, sc *sandbox.Context, input map[string]any) (any, error) {
					key, _ := input["key"].(string)
					note, _ := input["note"].(string)
					if err := sc.Storage().Set(ctx, key, []byte(note)); err != nil {
						return nil, err
					}
					return "ok", nil
				},
			},
			{
				Name:        "recall",
				Description: "Returns a previously stored note.",
				InputSchema: map[string]any{
					"type":     "object",
					"required": []any{"key"},
					"properties": map[string]any{
						"key": map[string]any{"type": "string"},
					},
				},
				Run: func(ctx context.Context, sc *sandbox.Context, input map[string]any) (any, error) {
					key, _ := input["key"].(string)
					data, err := sc.Storage().Get(ctx, key)
					if err != nil {
						return nil, fmt.Errorf("no note under %q: %w", key, err)
					}
					return string(data), nil
				},
			},
		},
		OnActivate: func(ctx context.Context, sc *sandbox.Context) error {
			sc.Log().Info(ctx, "echo module ready")
			return nil
		},
		OnDeactivate: func(ctx context.Context, sc *sandbox.Context) error {
			sc.Log().Info(ctx, "echo module shutting down")
			return nil
		},
	}, nil
}

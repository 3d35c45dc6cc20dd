// Package loom turns markdown documents into staged delivery pipelines.
// A Coordinator owns the subsystem set (memory, documentation index,
// export, interface), a workspace registry and the workflow engine;
// documents submitted through it advance vision -> adr -> prd -> epic ->
// feature -> task -> code, one workflow instance per stage. Embedders
// construct with NewCoordinator for fine-grained control or QuickStart
// for configure-and-go.
package loom

import "context"

// Version is the release stamp reported in status payloads and exports.
const Version = "0.3.0"

// Create builds a coordinator and initializes its subsystems. The result
// reports status and exports but rejects documents until Launch.
func Create(ctx context.Context, cfg Config, opts ...Option) (*Coordinator, error) {
	c, err := NewCoordinator(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// QuickStart is Create plus Launch: the returned coordinator accepts
// documents immediately.
func QuickStart(ctx context.Context, cfg Config, opts ...Option) (*Coordinator, error) {
	c, err := Create(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Launch(); err != nil {
		return nil, err
	}
	return c, nil
}

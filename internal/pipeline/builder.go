package pipeline

import (
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/decoder"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithSources appends sources.
func (b *Builder) WithSources(sources ...source.Source) *Builder {
	b.config.Sources = append(b.config.Sources, sources...)
	return b
}

// WithSinks appends sinks.
func (b *Builder) WithSinks(sinks ...sink.Sink) *Builder {
	b.config.Sinks = append(b.config.Sinks, sinks...)
	return b
}

// WithReassembly sets the per-stream reassembly configuration.
func (b *Builder) WithReassembly(cfg decoder.ReassemblyConfig) *Builder {
	b.config.Reassembly = cfg
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}

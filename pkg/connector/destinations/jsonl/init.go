package jsonl

import (
	"context"

	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination(DestinationName, func(_ context.Context, cfg *config.Config) (core.Sink, error) {
		return NewSink(cfg.Destination.Path, cfg.Destination.Compress)
	})
}

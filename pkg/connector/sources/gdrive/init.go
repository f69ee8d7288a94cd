package gdrive

import (
	"context"

	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource(SourceName, func(ctx context.Context, cfg *config.Config) (core.Source, error) {
		return NewSource(ctx, cfg)
	})
}

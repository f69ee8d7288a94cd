// Package destinations registers every sink. Import it for side effects.
package destinations

import (
	// Import all destination connectors to trigger init() registration
	_ "github.com/ajitpratap0/tidemark/pkg/connector/destinations/gcs"
	_ "github.com/ajitpratap0/tidemark/pkg/connector/destinations/jsonl"
	_ "github.com/ajitpratap0/tidemark/pkg/connector/destinations/kafka"
	_ "github.com/ajitpratap0/tidemark/pkg/connector/destinations/mongodb"
	_ "github.com/ajitpratap0/tidemark/pkg/connector/destinations/postgres"
)

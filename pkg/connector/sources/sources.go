// Package sources registers every source. Import it for side effects.
package sources

import (
	// Import all source connectors to trigger init() registration
	_ "github.com/ajitpratap0/tidemark/pkg/connector/sources/erp"
	_ "github.com/ajitpratap0/tidemark/pkg/connector/sources/gdrive"
)

package erp

import "github.com/ajitpratap0/tidemark/pkg/connector/core"

// CursorField is the ordering field of every ERP stream.
const CursorField = "lastModifiedDateTime"

// LedgerPath is the journal transaction endpoint used by both ledger
// strategies.
const LedgerPath = "/controller/api/v2/journaltransaction"

// Streams returns the ERP stream catalogue in run order.
func Streams(initial string) []*core.Stream {
	if initial == "" {
		initial = core.DefaultInitialWatermark
	}

	def := func(name, path string, pk string, pageSize int) *core.Stream {
		return &core.Stream{
			Name:            name,
			Table:           name,
			Endpoint:        path,
			PrimaryKey:      []string{pk},
			WriteMode:       core.WriteModeAppend,
			Cursor:          core.Cursor{Field: CursorField, Initial: initial},
			Paginated:       pageSize > 0,
			PageSize:        pageSize,
			PageSizeParam:   DefaultPageSizeParam,
			PageNumberParam: DefaultPageNumberParam,
			PerTenant:       true,
		}
	}

	ledger := def("general_ledger_transactions", LedgerPath, "batchNumber", 1000)
	ledger.WriteMode = core.WriteModeMerge
	ledger.PeriodFallback = true

	return []*core.Stream{
		def("account", "/controller/api/v1/account", "accountID", 0),
		def("contact", "/controller/api/v1/contact", "contactId", 0),
		def("inventory", "/controller/api/v1/inventory", "inventoryId", 5000),
		def("customer", "/controller/api/v1/customer", "internalId", 1000),
		def("supplier", "/controller/api/v1/supplier", "internalId", 1000),
		def("subaccount", "/controller/api/v1/subaccount", "subaccountId", 1000),
		ledger,
	}
}

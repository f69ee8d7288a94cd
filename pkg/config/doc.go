// Package config loads tidemark's configuration.
//
// # Sources
//
// Values are layered, later sources winning:
//
//  1. Defaults from NewConfig
//  2. The YAML file passed to Load, after ${VAR_NAME} substitution
//  3. TIDEMARK_* environment variables, with dots replaced by underscores
//     (TIDEMARK_ERP_CLIENT_SECRET overrides erp.client_secret)
//
// LoadEnvFiles reads .env files into the environment before Load runs, so
// secrets can live outside the YAML file.
//
// # Example
//
//	erp:
//	  enabled: true
//	  client_id: ${VISMA_CLIENT_ID}
//	  client_secret: ${VISMA_CLIENT_SECRET}
//	  tenant_ids: [tenant-a, tenant-b]
//	drive:
//	  enabled: true
//	  drive_id: 0AAbCdEf
//	  credentials_file: /secrets/drive.json
//	  folders:
//	    - folder_id: 1XyZ
//	      table_name: sales_reports
//	      mime_type: text/csv
//	      primary_key: [order_id]
//	destination:
//	  type: postgres
//	  dsn: ${DATABASE_URL}
//	state:
//	  type: postgres
//	  dsn: ${DATABASE_URL}
//
// Durations accept Go syntax ("30s", "4320h") and list values given through
// the environment are comma separated.
package config

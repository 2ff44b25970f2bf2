// Package all wires every built-in warehouse backend into the factory.
//
// It exists purely for side effects: importing it (even blank) runs the
// init functions of the concrete backends, which register their
// constructors with the warehouse package. After that the following kinds
// are available via warehouse.Open:
//
//   - "bigquery" (adsync/internal/warehouse/bigquery)
//   - "postgres" (adsync/internal/warehouse/postgres)
//   - "mssql"    (adsync/internal/warehouse/mssql)
//   - "mysql"    (adsync/internal/warehouse/mysql)
//   - "sqlite"   (adsync/internal/warehouse/sqlite)
//
// Binaries that only need a subset can import the individual backend
// packages instead and skip the rest.
package all

import (
	_ "adsync/internal/warehouse/bigquery"
	_ "adsync/internal/warehouse/mssql"
	_ "adsync/internal/warehouse/mysql"
	_ "adsync/internal/warehouse/postgres"
	_ "adsync/internal/warehouse/sqlite"
)

// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// factories and DDL flavors with the storage package. The available kinds are
// "mysql", "postgres", "mssql" and "sqlite".
//
// A binary that supports only a subset of backends can import those backend
// packages directly instead.
package all

import (
	_ "s3etl/internal/storage/mssql"
	_ "s3etl/internal/storage/mysql"
	_ "s3etl/internal/storage/postgres"
	_ "s3etl/internal/storage/sqlite"
)

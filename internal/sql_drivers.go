package internal

import (
	// Blank imports register the database drivers the SQL queue driver can
	// be configured with.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

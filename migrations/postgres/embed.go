// Package migrations embebe las migraciones SQL de PostgreSQL.
package migrations

import "embed"

// FS contiene las unidades {timestamp}_{name}.up.sql / .down.sql en su raíz.
//
//go:embed *.sql
var FS embed.FS

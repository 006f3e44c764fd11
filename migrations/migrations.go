// Package migrations embeds the SQL schema for the prompt-optimization
// engine, discovered by bun's migrate.Migrations the same way the
// workflow engine's migration set is embedded.
package migrations

import "embed"

//go:embed sql/*.sql
var FS embed.FS

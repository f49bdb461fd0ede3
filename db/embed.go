// Package db provides the embedded PostgreSQL migrations.
package db

import "embed"

// Migrations holds the versioned up/down scripts under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

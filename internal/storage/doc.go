// Package storage is the user registry: who has used the bot, who is banned,
// and how many conversions were delivered.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite file database (default)
//   - "postgres": jackc/pgx through database/sql
//   - "memory": process-local, for tests and throwaway runs
//
// SQL schemas are applied with goose from embedded migrations.
package storage

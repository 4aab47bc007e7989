// Package database owns the process-wide Bun connection: it resolves the
// connection configuration against the environment, connects to SQLite,
// Postgres or MySQL, synchronizes the schema of registered models, and
// classifies driver errors.
package database

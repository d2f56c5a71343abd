// Package sqlstore implements the charter stores on bun. Schemas are shipped
// as embedded migrations for postgres and sqlite.
package sqlstore

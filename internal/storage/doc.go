// Package storage persists the full schedule collection.
//
// Drivers:
//   - file: one indented JSON document, fully rewritten (tmp + rename) on every save
//   - sqlite: one row per schedule in a single table, replaced inside a transaction
//
// Both drivers share the record layout in record.go so a snapshot survives a
// driver switch through export/import.
package storage

// Package ingest turns decoded JSON request bodies into store entries.
//
// Two body shapes are accepted:
//
//   - a session batch: {"sessionId": "...", "<categoryA>": [...], "<categoryB>": [...], ...}
//     recognised when sessionId is a non-empty string and at least one of the
//     two configured category keys holds an array. Every element {name, value}
//     becomes one entry with count 1 and ID "<category>-<name>-<suffix>", where
//     suffix is the last 8 characters of sessionId. Elements without a name or
//     a numeric value are skipped and counted in Summary.Skipped.
//   - a generic record: {"name", "value", "count"}, all required and typed.
//     "price" and "quantity" are accepted as aliases for value and count.
//     The ID is "manual-<name>-<unix millis>".
//
// Typed fields are decoded with mapstructure without weak typing, so a string
// never passes for a number.
package ingest

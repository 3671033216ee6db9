// Package types defines the bi-temporal knowledge data model shared by all
// contextmem components: entities, relations, facts, and episodes, plus the
// result types produced by the extraction pipeline and the context memory
// system.
//
// Rows in the model are never hard-deleted. A record is "currently valid"
// exactly when ValidTo is nil; superseding a record sets ValidTo. This keeps
// the full history of the graph auditable.
package types

// Package classifier defines the contract the query fingerprinter relies on
// to learn which tables a raw SQL query references. Real SQL parsing lives
// behind the Classifier interface; this package only carries the contract.
package classifier

// TableRef is one referenced table, optionally qualified by the database it
// lives in. Database is empty when the query used an unqualified table name
// and the session's default database should be substituted by the caller.
type TableRef struct {
	Database string
	Table    string
}

// Classifier extracts the set of tables referenced by a raw SQL query. A
// real implementation would be backed by a full SQL parser; this package
// ships only the contract plus one intentionally-approximate implementation
// for demos and tests (internal/classifier/heuristic).
type Classifier interface {
	Tables(query []byte) []TableRef
}

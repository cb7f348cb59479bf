package fingerprint_test

import (
	"crypto/sha512"
	"testing"

	"github.com/pentve/rowcap/internal/classifier"
	"github.com/pentve/rowcap/internal/fingerprint"
)

func TestDeriveStableUnderTableOrder(t *testing.T) {
	t.Parallel()
	sql := []byte("SELECT * FROM db1.t JOIN db2.t ON true")

	a := fingerprint.Derive("db0", sql, []classifier.TableRef{
		{Database: "db2", Table: "t"},
		{Database: "db1", Table: "t"},
	})
	b := fingerprint.Derive("db0", sql, []classifier.TableRef{
		{Database: "db1", Table: "t"},
		{Database: "db2", Table: "t"},
	})
	if a != b {
		t.Errorf("Derive() differs under table ordering permutation: %x vs %x", a, b)
	}
}

func TestDeriveSensitiveToDefaultDB(t *testing.T) {
	t.Parallel()
	sql := []byte("SELECT * FROM t")
	tables := []classifier.TableRef{{Table: "t"}}

	a := fingerprint.Derive("db0", sql, tables)
	b := fingerprint.Derive("db9", sql, tables)
	if a == b {
		t.Error("Derive() should differ when default database differs and table is unqualified")
	}
}

func TestDeriveSensitiveToSQLText(t *testing.T) {
	t.Parallel()
	tables := []classifier.TableRef{{Database: "db0", Table: "t"}}

	a := fingerprint.Derive("db0", []byte("SELECT * FROM db0.t"), tables)
	b := fingerprint.Derive("db0", []byte("select * from db0.t"), tables)
	if a == b {
		t.Error("Derive() should be case-sensitive over SQL text")
	}
}

func TestDeriveDeterministic(t *testing.T) {
	t.Parallel()
	sql := []byte("SELECT * FROM db1.t")
	tables := []classifier.TableRef{{Database: "db1", Table: "t"}}

	a := fingerprint.Derive("db0", sql, tables)
	b := fingerprint.Derive("db0", sql, tables)
	if a != b {
		t.Error("Derive() is not deterministic for identical inputs")
	}
}

func TestDeriveNoTablesNoDefaultDB(t *testing.T) {
	t.Parallel()
	sql := []byte("SELECT 1")
	key := fingerprint.Derive("", sql, nil)

	emptyTagDigest := sha512.Sum512(nil)
	var want [sha512.Size]byte
	copy(want[:], key[:sha512.Size])
	if want != emptyTagDigest {
		t.Error("expected first half of key to be the digest of the empty database tag")
	}
}

func TestDeriveBareTableUsesDefaultDB(t *testing.T) {
	t.Parallel()
	sql := []byte("SELECT * FROM t")

	withDefault := fingerprint.Derive("db0", sql, []classifier.TableRef{{Table: "t"}})
	qualified := fingerprint.Derive("ignored", sql, []classifier.TableRef{{Database: "db0", Table: "t"}})
	if withDefault != qualified {
		t.Error("bare table with default DB should produce the same key as an explicitly qualified one")
	}
}

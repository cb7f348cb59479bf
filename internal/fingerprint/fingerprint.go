// Package fingerprint derives the content-addressed cache key used by the
// cache back-end adapter: a fixed-width fingerprint of the database set a
// query references plus the query text itself, stable across equivalent
// queries issued against differently-defaulted sessions.
package fingerprint

import (
	"crypto/sha512"
	"sort"
	"strings"

	"github.com/pentve/rowcap/internal/cache"
	"github.com/pentve/rowcap/internal/classifier"
)

// Derive computes the cache key for a query: the first half is the SHA-512
// digest of the sorted, concatenated set of databases the query references
// (explicit db.table prefixes, or defaultDB for bare table names); the
// second half is the SHA-512 digest of queryBytes itself. Tables with no
// database prefix and no defaultDB are silently dropped — the server will
// reject such a query anyway, so no cache entry should exist for it.
//
// Derive never fails: a query whose tables all resolve to no database
// produces a key whose first half is the digest of the empty string.
func Derive(defaultDB string, queryBytes []byte, tables []classifier.TableRef) cache.Key {
	dbSet := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		db := t.Database
		if db == "" {
			db = defaultDB
		}
		if db == "" {
			continue
		}
		dbSet[db] = struct{}{}
	}

	names := make([]string, 0, len(dbSet))
	for db := range dbSet {
		names = append(names, db)
	}
	sort.Strings(names)
	tag := strings.Join(names, "")

	h1 := sha512.Sum512([]byte(tag))
	h2 := sha512.Sum512(queryBytes)

	var key cache.Key
	copy(key[:sha512.Size], h1[:])
	copy(key[sha512.Size:], h2[:])
	return key
}

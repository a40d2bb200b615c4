package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/ragserve/model"
)

// Key derives the deterministic cache key for one operation. Two requests
// that are semantically identical (same operation, same query after
// whitespace and case normalization, same topK, same filter regardless of
// map order) always produce the same key.
//
// extras carry anything else that changes the payload, such as the codec
// name and the ingest generation.
func Key(op, query string, topK int, filter model.Filter, extras ...string) string {
	h := sha256.New()

	writeField := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	writeField(op)
	writeField(NormalizeQuery(query))
	writeField(strconv.Itoa(topK))

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := append([]string(nil), filter[k]...)
		sort.Strings(values)
		writeField(k + "=" + strings.Join(values, ","))
	}

	for _, e := range extras {
		writeField(e)
	}

	return op + "/" + hex.EncodeToString(h.Sum(nil))
}

// NormalizeQuery collapses whitespace and lowercases the query text so that
// trivially different spellings share a cache entry.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

package profile

import (
	"github.com/zeebo/xxh3"
)

// stringTable interns strings into a dense, order-of-first-insertion
// index, the column the Gecko document's string table is written from.
// Lookup keys are xxh3 hashes of the string bytes rather than the
// strings themselves, avoiding a full string compare on every insert.
type stringTable struct {
	strings []string
	index   map[uint64][]int // hash -> candidate indices (collision chain)
}

func newStringTable() *stringTable {
	return &stringTable{index: make(map[uint64][]int)}
}

// Intern returns s's stable index, inserting it if not already present.
func (t *stringTable) Intern(s string) int {
	h := xxh3.HashString(s)
	for _, idx := range t.index[h] {
		if t.strings[idx] == s {
			return idx
		}
	}
	idx := len(t.strings)
	t.strings = append(t.strings, s)
	t.index[h] = append(t.index[h], idx)
	return idx
}

// Strings returns the table in index order, for document emission.
func (t *stringTable) Strings() []string {
	return t.strings
}

// frameKey identifies a deduplicated frame: a native library frame at a
// given RVA and inline depth, or a JIT/kernel/unmapped synthetic frame
// distinguished by its interned function name, file, and line.
type frameKey struct {
	lib          LibHandle
	hasLib       bool
	rva          uint32
	inlineDepth  int
	funcNameIdx  int
	fileIdx      int
	line         uint32
}

// frameTable interns (lib, rva, inline-depth, function, file, line)
// tuples into a dense frame index, the column the Gecko document's
// frame table is written from.
type frameTable struct {
	keys    []frameKey
	records []FrameRecord
	index   map[uint64][]int
}

// FrameRecord is one interned frame table row.
type FrameRecord struct {
	FuncNameIndex int // index into the string table, -1 if unnamed
	FileIndex     int // index into the string table, -1 if unknown
	Line          uint32
	Category      Category
	Subcategory   Subcategory
	LibHandle     LibHandle
	HasLib        bool
	RVA           uint32
	InlineDepth   int
}

func newFrameTable() *frameTable {
	return &frameTable{index: make(map[uint64][]int)}
}

func (t *frameTable) hashKey(k frameKey) uint64 {
	var buf [40]byte
	putU64(buf[0:8], uint64(k.lib))
	if k.hasLib {
		buf[8] = 1
	}
	putU64(buf[9:17], uint64(k.rva))
	putU64(buf[17:25], uint64(k.inlineDepth))
	putU64(buf[25:33], uint64(k.funcNameIdx))
	putU64(buf[33:40], uint64(k.fileIdx))
	return xxh3.Hash(buf[:])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < len(b) && i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// Intern returns rec's stable frame index, deduplicating against its
// key (ignoring Category/Subcategory, which never vary for a given key
// in practice but aren't part of identity).
func (t *frameTable) Intern(key frameKey, rec FrameRecord) int {
	h := t.hashKey(key)
	for _, idx := range t.index[h] {
		if t.keys[idx] == key {
			return idx
		}
	}
	idx := len(t.records)
	t.keys = append(t.keys, key)
	t.records = append(t.records, rec)
	t.index[h] = append(t.index[h], idx)
	return idx
}

// Records returns the table in index order, for document emission.
func (t *frameTable) Records() []FrameRecord {
	return t.records
}

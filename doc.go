/*
Package bibstore implements an embedded, on-disk store of bibliographic
metadata records on top of a memory-mapped key-value file (Bolt).

Records are served by their primary identifier (ident) or by a DOI, and are
loaded in bulk from a lazy sequence of records.

We implement:

1. Env, the storage environment: one backing file, named maps, one writer
at a time and a fixed number of reader slots. Running out of reader slots
is an immediate ErrOverloaded, never a wait.

2. Store, the read path: lookup by ident, two-hop lookup by DOI, bounded
listing in key order, and entry counts.

3. Loader, the write path: records are written in batches, one write
transaction per batch.

# Technical Details

**Maps.**
The primary map holds ident -> payload. The secondary map holds
doi -> ident, so a DOI lookup is two gets within one read transaction.
Both keys are lowercased before storage and before lookup.

**Batches.**
Both writes for a record happen in the same transaction. A failure aborts
only the in-flight batch; earlier batches are already committed. Reloading
the same input overwrites the same keys.

## Binary encoding

**Key encoding**.
Keys are raw UTF-8 bytes, so map order is byte order.

**Value**: format byte, then xxhash64 of the body (8 bytes, big endian),
then the body.

**Value body**: S2 block of the msgpack-encoded string. Secondary map
values are encoded the same way, the string being the ident.

A value that fails any of these checks yields a *CorruptionError for that
entry only.
*/
package bibstore

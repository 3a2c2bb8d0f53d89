// Package pagefile is an immutable hashtable file format inspired by djb's
// constant database (cdb), tuned for point lookups over remote/range-read
// storage (e.g. HTTP range requests or object storage GETs) rather than
// local disk.
//
// # Design
//
// A pagefile holds a single generation of key-value pairs, built once by a
// Builder and then queried read-only by a Reader. Unlike compactindexsized's
// variable per-bucket header table, a pagefile has one fixed 24-byte file
// header describing a uniform page geometry shared by every page: the same
// heap size and table slot count apply throughout the file, so a lookup
// never needs to fetch a bucket header before it can fetch a bucket.
//
// # Pages
//
// Keys are split across pages by the low 64 bits of a 128-bit murmur3 hash.
// Each page is a fixed-size heap (holding inline key/value records, or
// 17-byte stubs pointing into an external tail area) followed by an open
// addressing table of 32-bit heap offsets, probed with the high 64 bits of
// the same hash. A lookup fetches one page, plus one additional range from
// the tail area for each external stub it visits while probing.
//
// # Building
//
// Builder buffers all inserts in memory and only computes page geometry
// once Seal is called. Seal tries page counts 1, 2, 4, 8, ... and keeps the
// first that holds both the table load factor and the configured
// waste/external ratios within bounds; page counts that are not powers of
// two are never tried.
package pagefile

// Package domain models Unified Data Library (UDL) elset history records and
// their normalization into a type-consistent columnar form.
//
// # Data Source
//
// Records originate from UDL bulk archive exports of the elset history AODR
// (Archive Of Daily Records). Each export is a zip of JSON files where a file
// is either a single JSON array of objects or newline-delimited JSON, one
// object per line. Within and across files record shapes differ: fields come
// and go, numeric fields arrive as numbers in one record and quoted strings
// in the next, and some exports carry nested objects.
//
// # Column Conventions
//
// Flattening:
//
//	Nested objects flatten one level with dot-joined keys:
//	  {"a": {"b": 1}} → column "a.b".
//	Deeper nesting and arrays are not expanded; they serialize to JSON text.
//
// Type coercion (fixed per dataset, not inferred per batch):
//
//	Orbital elements (meanMotion, eccentricity, inclination, raan,
//	argOfPerigee, meanAnomaly, bStar, semiMajorAxis, period, apogee,
//	perigee, ...) are 64-bit floats.
//	Identifiers (satNo, revNo, idElset, idOnOrbit, idOrbitDetermination)
//	are nullable 64-bit integers: "00005" → 5, "5.0" → 5, "5.7" → null.
//	Provenance fields (classificationMarking, origin, source, createdBy,
//	uct, tags, ...) are strings; booleans render "true"/"false" and nested
//	values render as canonical JSON text.
//	epoch, createdAt, effectiveFrom, effectiveUntil are UTC timestamps at
//	microsecond precision; zoneless inputs are read as UTC.
//
// Unparsable values:
//
//	Coercion never rejects a record. A cell that cannot parse under its
//	column's type becomes null, so one stray "N/A" in a numeric column
//	costs a cell, not a file.
//
// # Partitioning
//
// The partition column epoch_date is derived, not stored in the source: the
// UTC calendar date of each row's epoch. It is appended after all data
// columns and drives the hive-style directory layout of the output dataset.
// Rows with a null epoch get a null partition value.
//
// # Deduplication
//
// Bulk exports overlap, so the same elset appears in multiple archives. The
// natural key is (satNo, epoch, idElset), reduced to the columns a batch
// actually has. Rows are stably sorted by the key tuple and the last
// occurrence per tuple wins; see [Dedupe]. The same tuple rendering backs the
// durable cross-run index; see [CompositeKey].
package domain

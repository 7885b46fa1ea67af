// Package meshcop implements the MeshCoP TLV wire format used during
// mesh commissioning.
//
// # TLV Format
//
// Every field on the wire is encoded as type (1 byte), length (1 byte),
// value (length bytes). Each type additionally defines its own validity
// predicate beyond generic TLV parsing: fixed sizes for key material and
// identifiers, length bounds for names and URLs, and a value range for
// the State TLV.
//
// The Find* helpers combine the fetch and the type-specific validity
// check in one call, returning an owned, bounds-checked value. They are
// the building blocks for fail-fast message validation: the first
// missing or malformed TLV aborts processing before any value is used.
package meshcop

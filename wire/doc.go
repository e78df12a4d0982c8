// Package wire implements the RTPS Message Layer of spec.md §4.2: the
// 20-byte message header and the DATA/DATA_FRAG/HEARTBEAT/ACKNACK/GAP/
// NACK_FRAG/HEARTBEAT_FRAG/INFO_TS/INFO_DST/INFO_SRC submessages,
// bit-exact with OMG DDS-RTPS 2.x (spec.md §6).
//
// No corpus example repo or rest-of-pack dependency encodes this exact
// third-party wire format (OMG DDS-RTPS), so this package is built
// directly on encoding/binary and bytes.Buffer rather than a generic
// serialization library — see DESIGN.md's "wire" entry. This is the
// one layer in the repo where byte-for-byte interoperability with
// other DDS-RTPS implementations forbids reaching for something like
// msgpack/protobuf/CDR-via-reflection: the layout, down to which bit
// is the endianness flag, is normative.
package wire

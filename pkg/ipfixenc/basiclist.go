// Package ipfixenc provides the small wire-encoding helpers shared by
// process plugins when filling their IPFIX extension fields: the Cesnet
// (PEN 8057) "basic list" construct for lists of scalar values, and
// variable-length field prefixes, per SPEC_FULL.md §4.5/§6.
package ipfixenc

import "encoding/binary"

// CesnetPEN is the Cesnet-assigned IPFIX Private Enterprise Number.
const CesnetPEN = 8057

// basicListSemanticAllOf is the IPFIX basic-list semantic meaning every
// element is present (as opposed to noneOf/exactlyOneOf/oneOrMoreOf).
const basicListSemanticAllOf = 3

// PutVarLen writes an IPFIX variable-length field: a 1-byte length prefix
// for values < 255, else 0xFF followed by a 2-byte length, then the value.
// Returns the number of bytes written, or -1 if buf is too small.
func PutVarLen(buf []byte, value []byte) int {
	n := len(value)
	if n < 255 {
		need := 1 + n
		if len(buf) < need {
			return -1
		}
		buf[0] = byte(n)
		copy(buf[1:], value)
		return need
	}
	need := 3 + n
	if len(buf) < need {
		return -1
	}
	buf[0] = 0xFF
	binary.BigEndian.PutUint16(buf[1:3], uint16(n))
	copy(buf[3:], value)
	return need
}

// PutBasicListU16 encodes a non-empty list of u16 values as an IPFIX
// basic list: 1-byte flag=0xFF, 2-byte total length, 1-byte semantic=3,
// 2-byte field-id with the top bit set, 2-byte element length, 4-byte
// PEN, then the elements in network byte order. Total emitted length is
// 9 + 2*len(values), matching SPEC_FULL.md §8 invariant 8.
func PutBasicListU16(buf []byte, fieldID uint16, values []uint16) int {
	total := 9 + 2*len(values)
	if len(buf) < total || len(values) == 0 {
		return -1
	}
	buf[0] = 0xFF
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	buf[3] = basicListSemanticAllOf
	binary.BigEndian.PutUint16(buf[4:6], fieldID|0x8000)
	binary.BigEndian.PutUint16(buf[6:8], 2)
	binary.BigEndian.PutUint32(buf[8:12], CesnetPEN)
	off := 12
	for _, v := range values {
		binary.BigEndian.PutUint16(buf[off:off+2], v)
		off += 2
	}
	return total
}

// PutBasicListU8 is PutBasicListU16 for single-byte elements.
func PutBasicListU8(buf []byte, fieldID uint16, values []uint8) int {
	total := 9 + len(values)
	if len(buf) < total || len(values) == 0 {
		return -1
	}
	buf[0] = 0xFF
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	buf[3] = basicListSemanticAllOf
	binary.BigEndian.PutUint16(buf[4:6], fieldID|0x8000)
	binary.BigEndian.PutUint16(buf[6:8], 1)
	binary.BigEndian.PutUint32(buf[8:12], CesnetPEN)
	copy(buf[12:], values)
	return total
}

// PutBasicListU32 is PutBasicListU16 for four-byte elements.
func PutBasicListU32(buf []byte, fieldID uint16, values []uint32) int {
	total := 9 + 4*len(values)
	if len(buf) < total || len(values) == 0 {
		return -1
	}
	buf[0] = 0xFF
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	buf[3] = basicListSemanticAllOf
	binary.BigEndian.PutUint16(buf[4:6], fieldID|0x8000)
	binary.BigEndian.PutUint16(buf[6:8], 4)
	binary.BigEndian.PutUint32(buf[8:12], CesnetPEN)
	off := 12
	for _, v := range values {
		binary.BigEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}
	return total
}

// Package guestnic builds the VMware SetGuestInfo v2 (IP_ADDRESS_V2) NIC
// information blob and patches it with live per-interface data read through
// Linux network ioctls.
package guestnic

import "encoding/hex"

// Per-interface record layout, relative to the start of a template, for
// interface slot k: a 17-byte ASCII MAC at mac_offset, a 4-byte IPv4 address
// at ip_offset, and a 4-byte prefix length at prefix_offset. Each record is
// 72 bytes.
const (
	recordSize    = 72
	macOffset     = 32
	ipOffset      = 64
	prefixOffset  = 71
	macFieldLen   = 17
	ipFieldLen    = 4
	prefixFieldLen = 4
)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("guestnic: malformed template literal: " + err.Error())
	}
	return b
}

// Fixed scaffolds, one per supported interface count. Each carries the
// 16-byte header "SetGuestInfo  9 " (note two spaces, then a trailing
// space — the "9" denotes guest-info key IP_ADDRESS_V2), the record-framing
// bytes ending in the interface count, and one 72-byte record per interface
// pre-filled with the reference implementation's placeholder MAC, IPv4
// address and prefix length. PatchInterface overwrites only the mac/ip/prefix
// fields; every other byte stays as in the scaffold. Wire compatibility, not
// the scaffold's internal structure, is the contract.
var (
	template1 = mustDecodeHex("5365744775657374496e666f202039200000000300000001000000010000001130303a35303a35363a61313a62653a66380000000000000100000001000000040a00004f00000018000000000000000100000001000000000000000000000000000000000000000000000000000000000000000000000000")
	template2 = mustDecodeHex("5365744775657374496e666f202039200000000300000001000000020000001130303a35303a35363a61313a62653a66380000000000000100000001000000040a00004f00000018000000000000000100000001000000000000000000000000000000000000001130303a35303a35363a61313a66303a61610000000000000100000001000000040a00005900000018000000000000000100000001000000000000000000000000000000000000000000000000000000000000000000000000")
	template3 = mustDecodeHex("5365744775657374496e666f202039200000000300000001000000030000001130303a35303a35363a61313a62653a66380000000000000100000001000000040a00004f00000018000000000000000100000001000000000000000000000000000000000000001130303a35303a35363a61313a66303a61610000000000000100000001000000040a00005900000018000000000000000100000001000000000000000000000000000000000000001130303a35303a35363a61313a65653a39630000000000000100000001000000040a00005a00000018000000000000000100000001000000000000000000000000000000000000000000000000000000000000000000000000")
	template4 = mustDecodeHex("5365744775657374496e666f202039200000000300000001000000040000001130303a35303a35363a61313a62653a66380000000000000100000001000000040a00004f00000018000000000000000100000001000000000000000000000000000000000000001130303a35303a35363a61313a66303a61610000000000000100000001000000040a00005900000018000000000000000100000001000000000000000000000000000000000000001130303a35303a35363a61313a65653a39630000000000000100000001000000040a00005a00000018000000000000000100000001000000000000000000000000000000000000001130303a35303a35363a61313a31643a30380000000000000100000001000000040a00005b00000018000000000000000100000001000000000000000000000000000000000000000000000000000000000000000000000000")
)

// NumCards returns the number of interface records a blob for the given
// configured interface count will carry, and the blob's exact length.
// 1 and any count ≥5 collapse to the single-interface template; only counts
// 2, 3 and 4 get a dedicated multi-record template.
func NumCards(interfaceCount int) (cards int, blobLen int) {
	switch interfaceCount {
	case 2:
		return 2, len(template2)
	case 3:
		return 3, len(template3)
	case 4:
		return 4, len(template4)
	default:
		return 1, len(template1)
	}
}

// NewTemplate returns a fresh, mutable copy of the scaffold matching
// interfaceCount, ready for PatchInterface to fill in.
func NewTemplate(interfaceCount int) []byte {
	var src []byte
	switch interfaceCount {
	case 2:
		src = template2
	case 3:
		src = template3
	case 4:
		src = template4
	default:
		src = template1
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// PatchInterface writes mac (17 ASCII bytes, e.g. "00:50:56:a1:be:f8"), ip
// (4 bytes, network order) and prefixLen into slot k of blob. Callers
// supplying undersized mac/ip slices leave the remaining field bytes
// untouched — the caller is expected to pass exactly macFieldLen/ipFieldLen
// bytes, as Build does with QueryInterface's results.
func PatchInterface(blob []byte, k int, mac []byte, ip []byte, prefixLen uint32) {
	base := recordSize * k
	copy(blob[base+macOffset:base+macOffset+macFieldLen], mac)
	copy(blob[base+ipOffset:base+ipOffset+ipFieldLen], ip)
	putUint32LE(blob[base+prefixOffset:base+prefixOffset+prefixFieldLen], prefixLen)
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

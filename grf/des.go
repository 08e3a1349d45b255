package grf

// This file contains the legacy block transform applied to encrypted GRF
// entries. It is a single round of a DES-like permutation network plus a
// byte shuffle, exactly as old Gravity patchers produced it. The tables
// below are not derivable from the DES standard; they were validated
// against known-good archives and must not be "fixed".

var bitMask = [8]byte{0x80, 0x40, 0x20, 0x10, 0x08, 0x04, 0x02, 0x01}

var ipTable = [64]byte{
	58, 50, 42, 34, 26, 18, 10, 2, 60, 52, 44, 36, 28, 20, 12, 4,
	62, 54, 46, 38, 30, 22, 14, 6, 64, 56, 48, 40, 32, 24, 16, 8,
	57, 49, 41, 33, 25, 17, 9, 1, 59, 51, 43, 35, 27, 19, 11, 3,
	61, 53, 45, 37, 29, 21, 13, 5, 63, 55, 47, 39, 31, 23, 15, 7,
}

var fpTable = [64]byte{
	40, 8, 48, 16, 56, 24, 64, 32, 39, 7, 47, 15, 55, 23, 63, 31,
	38, 6, 46, 14, 54, 22, 62, 30, 37, 5, 45, 13, 53, 21, 61, 29,
	36, 4, 44, 12, 52, 20, 60, 28, 35, 3, 43, 11, 51, 19, 59, 27,
	34, 2, 42, 10, 50, 18, 58, 26, 33, 1, 41, 9, 49, 17, 57, 25,
}

var tpTable = [32]byte{
	16, 7, 20, 21, 29, 12, 28, 17, 1, 15, 23, 26, 5, 18, 31, 10,
	2, 8, 24, 14, 32, 27, 3, 9, 19, 13, 30, 6, 22, 11, 4, 25,
}

var sBox = [4][64]byte{
	{
		0xef, 0x03, 0x41, 0xfd, 0xd8, 0x74, 0x1e, 0x47, 0x26, 0xef, 0xfb, 0x22, 0xb3, 0xd8, 0x84, 0x1e,
		0x39, 0xac, 0xa7, 0x60, 0x62, 0xc1, 0xcd, 0xba, 0x5c, 0x96, 0x90, 0x59, 0x05, 0x3b, 0x7a, 0x85,
		0x40, 0xfd, 0x1e, 0xc8, 0xe7, 0x8a, 0x8b, 0x21, 0xda, 0x43, 0x64, 0x9f, 0x2d, 0x14, 0xb1, 0x72,
		0xf5, 0x5b, 0xc8, 0xb6, 0x9c, 0x37, 0x76, 0xec, 0x39, 0xa0, 0xa3, 0x05, 0x52, 0x6e, 0x0f, 0xd9,
	},
	{
		0xa7, 0xdd, 0x0d, 0x78, 0x9e, 0x0b, 0xe3, 0x95, 0x60, 0x36, 0x36, 0x4f, 0xf9, 0x60, 0x5a, 0xa3,
		0x11, 0x24, 0xd2, 0x87, 0xc8, 0x52, 0x75, 0xec, 0xbb, 0xc1, 0x4c, 0xba, 0x24, 0xfe, 0x8f, 0x19,
		0xda, 0x13, 0x66, 0xaf, 0x49, 0xd0, 0x90, 0x06, 0x8c, 0x6a, 0xfb, 0x91, 0x37, 0x8d, 0x0d, 0x78,
		0xbf, 0x49, 0x11, 0xf4, 0x23, 0xe5, 0xce, 0x3b, 0x55, 0xbc, 0xa2, 0x57, 0xe8, 0x22, 0x74, 0xce,
	},
	{
		0x2c, 0xea, 0xc1, 0xbf, 0x4a, 0x24, 0x1f, 0xc2, 0x79, 0x47, 0xa2, 0x7c, 0xb6, 0xd9, 0x68, 0x15,
		0x80, 0x56, 0x5d, 0x01, 0x33, 0xfd, 0xf4, 0xae, 0xde, 0x30, 0x07, 0x9b, 0xe5, 0x83, 0x9b, 0x68,
		0x49, 0xb4, 0x2e, 0x83, 0x1f, 0xc2, 0xb5, 0x7c, 0xa2, 0x19, 0xd8, 0xe5, 0x7c, 0x2f, 0x83, 0xda,
		0xf7, 0x6b, 0x90, 0xfe, 0xc4, 0x01, 0x5a, 0x97, 0x61, 0xa6, 0x3d, 0x40, 0x0b, 0x58, 0xe6, 0x3d,
	},
	{
		0x4d, 0xd1, 0xb2, 0x0f, 0x28, 0xbd, 0xe4, 0x78, 0xf6, 0x4a, 0x0f, 0x93, 0x8b, 0x17, 0xd1, 0xa4,
		0x3a, 0xec, 0xc9, 0x35, 0x93, 0x56, 0x7e, 0xcb, 0x55, 0x20, 0xa0, 0xfe, 0x6c, 0x89, 0x17, 0x62,
		0x17, 0x62, 0x4b, 0xb1, 0xb4, 0xde, 0xd1, 0x87, 0xc9, 0x14, 0x3c, 0x4a, 0x7e, 0xa8, 0xe2, 0x7d,
		0xa0, 0x9f, 0xf6, 0x5c, 0x6a, 0x09, 0x8d, 0xf0, 0x0f, 0xe3, 0x53, 0x25, 0x95, 0x36, 0x28, 0xcb,
	},
}

// shuffleTable is an identity byte map with a handful of swapped pairs.
var shuffleTable [256]byte

func init() {
	for i := range shuffleTable {
		shuffleTable[i] = byte(i)
	}
	swaps := [][2]byte{
		{0x00, 0x2b},
		{0x6c, 0x80},
		{0x01, 0x68},
		{0x48, 0x77},
		{0x60, 0xff},
		{0xb9, 0xc0},
		{0xfe, 0xeb},
	}
	for _, s := range swaps {
		shuffleTable[s[0]], shuffleTable[s[1]] = s[1], s[0]
	}
}

func ip(src *[8]byte) {
	var tmp [8]byte
	for i, v := range ipTable {
		j := int(v) - 1
		if src[(j>>3)&7]&bitMask[j&7] != 0 {
			tmp[(i>>3)&7] |= bitMask[i&7]
		}
	}
	*src = tmp
}

func fp(src *[8]byte) {
	var tmp [8]byte
	for i, v := range fpTable {
		j := int(v) - 1
		if src[(j>>3)&7]&bitMask[j&7] != 0 {
			tmp[(i>>3)&7] |= bitMask[i&7]
		}
	}
	*src = tmp
}

// expand spreads the right half of the block into eight 6-bit groups.
func expand(src *[8]byte) {
	var tmp [8]byte
	tmp[0] = ((src[7] << 5) | (src[4] >> 3)) & 0x3f
	tmp[1] = ((src[4] << 1) | (src[5] >> 7)) & 0x3f
	tmp[2] = ((src[4] << 5) | (src[5] >> 3)) & 0x3f
	tmp[3] = ((src[5] << 1) | (src[6] >> 7)) & 0x3f
	tmp[4] = ((src[5] << 5) | (src[6] >> 3)) & 0x3f
	tmp[5] = ((src[6] << 1) | (src[7] >> 7)) & 0x3f
	tmp[6] = ((src[6] << 5) | (src[7] >> 3)) & 0x3f
	tmp[7] = ((src[7] << 1) | (src[4] >> 7)) & 0x3f
	*src = tmp
}

func substitute(src *[8]byte) {
	var tmp [8]byte
	for i := 0; i < 4; i++ {
		tmp[i] = (sBox[i][src[i*2]] & 0xf0) | (sBox[i][src[i*2+1]] & 0x0f)
	}
	*src = tmp
}

func transpose(src *[8]byte) {
	var tmp [8]byte
	for i, v := range tpTable {
		j := int(v) - 1
		if src[j>>3]&bitMask[j&7] != 0 {
			tmp[(i>>3)+4] |= bitMask[i&7]
		}
	}
	*src = tmp
}

// roundFn XORs the left half with the mangled right half. The right half
// stays untouched, which makes the whole block transform an involution.
func roundFn(src *[8]byte) {
	tmp := *src
	expand(&tmp)
	substitute(&tmp)
	transpose(&tmp)
	src[0] ^= tmp[4]
	src[1] ^= tmp[5]
	src[2] ^= tmp[6]
	src[3] ^= tmp[7]
}

// decryptBlock transforms one 8-byte block in place. Calling it twice on
// the same block restores the original bytes.
func decryptBlock(b []byte) {
	if len(b) < 8 {
		return
	}
	var block [8]byte
	copy(block[:], b)
	ip(&block)
	roundFn(&block)
	fp(&block)
	copy(b, block[:])
}

// shuffleDecode undoes the byte permutation applied to some blocks of
// fully encrypted entries.
func shuffleDecode(b []byte) {
	if len(b) < 8 {
		return
	}
	tmp := [8]byte{
		b[3], b[4], b[6], b[0], b[1], b[2], b[5], shuffleTable[b[7]],
	}
	copy(b, tmp[:])
}

// decodeCycle picks the gap between two DES blocks for a fully encrypted
// entry. The gap depends on the number of decimal digits of the entry's
// compressed size.
//
//	digits:  1  2  3  4  5  6  7  8 ...
//	 cycle:  1  1  4  5 14 15 22 23 ...
func decodeCycle(packSize uint32) int {
	digits := 1
	for n := packSize; n >= 10; n /= 10 {
		digits++
	}
	switch {
	case digits < 3:
		return 1
	case digits < 5:
		return digits + 1
	case digits < 7:
		return digits + 9
	default:
		return digits + 15
	}
}

// decodeFull decrypts an entry whose whole payload is scrambled. The
// first 20 blocks are always DES blocks; afterwards every cycle-th block
// is a DES block and every 8th remaining block is byte shuffled.
func decodeFull(data []byte, packSize uint32) {
	nblocks := len(data) >> 3
	cycle := decodeCycle(packSize)

	for i := 0; i < 20 && i < nblocks; i++ {
		decryptBlock(data[i*8:])
	}

	j := 0
	for i := 20; i < nblocks; i++ {
		if i%cycle == 0 {
			decryptBlock(data[i*8:])
			continue
		}
		if j == 7 {
			shuffleDecode(data[i*8:])
			j = 0
		}
		j++
	}
}

// decodeHeader decrypts an entry where only the first 20 blocks are
// scrambled; the rest of the payload is plaintext.
func decodeHeader(data []byte) {
	nblocks := len(data) >> 3
	for i := 0; i < 20 && i < nblocks; i++ {
		decryptBlock(data[i*8:])
	}
}

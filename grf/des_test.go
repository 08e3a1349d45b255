package grf

import (
	"bytes"
	"testing"
)

func TestDecryptBlockInvolution(t *testing.T) {
	orig := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x23, 0x45, 0x67}

	b := append([]byte(nil), orig...)
	decryptBlock(b)
	if bytes.Equal(b, orig) {
		t.Fatalf("decryptBlock left the block unchanged")
	}
	decryptBlock(b)
	if !bytes.Equal(b, orig) {
		t.Errorf("double decryptBlock: got % x, want % x", b, orig)
	}
}

func TestShuffleDecode(t *testing.T) {
	for _, tt := range []struct {
		in, want [8]byte
	}{
		// Plain permutation with an identity-mapped last byte.
		{
			in:   [8]byte{1, 2, 3, 4, 5, 6, 7, 0x10},
			want: [8]byte{4, 5, 7, 1, 2, 3, 6, 0x10},
		},
		// Last byte goes through the swap table.
		{
			in:   [8]byte{1, 2, 3, 4, 5, 6, 7, 0x00},
			want: [8]byte{4, 5, 7, 1, 2, 3, 6, 0x2b},
		},
		{
			in:   [8]byte{0, 0, 0, 0, 0, 0, 0, 0x77},
			want: [8]byte{0, 0, 0, 0, 0, 0, 0, 0x48},
		},
	} {
		b := tt.in
		shuffleDecode(b[:])
		if b != tt.want {
			t.Errorf("shuffleDecode(% x): got % x, want % x", tt.in, b, tt.want)
		}
	}
}

func TestShuffleTableIsPermutation(t *testing.T) {
	var seen [256]bool
	for _, v := range shuffleTable {
		if seen[v] {
			t.Fatalf("shuffle table maps two inputs to 0x%02x", v)
		}
		seen[v] = true
	}
}

func TestDecodeCycle(t *testing.T) {
	for _, tt := range []struct {
		packSize uint32
		want     int
	}{
		{1, 1},
		{99, 1},
		{100, 4},
		{999, 4},
		{1000, 5},
		{9999, 5},
		{10000, 14},
		{99999, 14},
		{100000, 15},
		{999999, 15},
		{1000000, 22},
		{10000000, 23},
	} {
		if got := decodeCycle(tt.packSize); got != tt.want {
			t.Errorf("decodeCycle(%d): got %d, want %d", tt.packSize, got, tt.want)
		}
	}
}

func TestDecodeHeaderInvolution(t *testing.T) {
	orig := make([]byte, 256)
	for i := range orig {
		orig[i] = byte(i * 7)
	}

	b := append([]byte(nil), orig...)
	decodeHeader(b)
	if bytes.Equal(b, orig) {
		t.Fatalf("decodeHeader left the data unchanged")
	}
	if !bytes.Equal(b[160:], orig[160:]) {
		t.Errorf("decodeHeader touched data past block 20")
	}
	decodeHeader(b)
	if !bytes.Equal(b, orig) {
		t.Errorf("double decodeHeader did not restore the data")
	}
}

func TestDecodeFullInvolutionWithCycleOne(t *testing.T) {
	// With a compressed size under 100 every block is a DES block, so
	// the transform is its own inverse even past block 20.
	orig := make([]byte, 64*8)
	for i := range orig {
		orig[i] = byte(i*13 + 5)
	}

	b := append([]byte(nil), orig...)
	decodeFull(b, 42)
	if bytes.Equal(b, orig) {
		t.Fatalf("decodeFull left the data unchanged")
	}
	decodeFull(b, 42)
	if !bytes.Equal(b, orig) {
		t.Errorf("double decodeFull did not restore the data")
	}
}

// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero clears private key material from byte slices and
// fixed-size arrays.
package zero

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear key material from memory.  The zeroed region is
// doubled on each pass rather than written a byte at a time.
func Bytes(b []byte) {
	z := [32]byte{}
	n := uint(copy(b, z[:]))
	for n < uint(len(b)) {
		copy(b[n:], b[:n])
		n <<= 1
	}
}

// Bytea32 clears the 32-byte array by filling it with the zero value.
// This is used to explicitly clear key material from memory.
func Bytea32(b *[32]byte) {
	*b = [32]byte{}
}

// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"
	"runtime/debug"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/dicepay/dicepayd/internal/zero"
)

// prng is the source of all random data in this file.  It is a variable
// so tests can supply a deterministic reader.
var prng = rand.Reader

// Errors returned by the low-level crypto layer.  The Vault wraps these
// in VaultError with a matching code.
var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrMalformed       = errors.New("malformed data")
	ErrDecryptFailed   = errors.New("unable to decrypt")
)

// Default scrypt cost parameters for deriving the master key from a
// passphrase.  N is the CPU/memory cost, R the block size, and P the
// parallelization factor.
const (
	DefaultN = 262144 // 2^18
	DefaultR = 8
	DefaultP = 1
)

const (
	// KeySize is the size in bytes of a CryptoKey.
	KeySize = 32

	// NonceSize is the size in bytes of the random nonce prepended to
	// every sealed box.
	NonceSize = 24
)

// CryptoKey is a 32-byte symmetric key used with NaCl secretbox.
type CryptoKey [KeySize]byte

// Encrypt seals in with a fresh random nonce and returns the nonce
// followed by the box.
func (ck *CryptoKey) Encrypt(in []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(prng, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], in, &nonce, (*[KeySize]byte)(ck)), nil
}

// Decrypt opens a blob produced by Encrypt.  Authentication failure or a
// blob too short to hold a nonce returns an error rather than garbage.
func (ck *CryptoKey) Decrypt(in []byte) ([]byte, error) {
	if len(in) < NonceSize {
		return nil, ErrMalformed
	}

	var nonce [NonceSize]byte
	copy(nonce[:], in[:NonceSize])
	opened, ok := secretbox.Open(nil, in[NonceSize:], &nonce,
		(*[KeySize]byte)(ck))
	if !ok {
		return nil, ErrDecryptFailed
	}
	return opened, nil
}

// Zero clears the key material from memory.
func (ck *CryptoKey) Zero() {
	zero.Bytea32((*[KeySize]byte)(ck))
}

// GenerateCryptoKey returns a new random CryptoKey.
func GenerateCryptoKey() (*CryptoKey, error) {
	var key CryptoKey
	if _, err := io.ReadFull(prng, key[:]); err != nil {
		return nil, err
	}
	return &key, nil
}

// Parameters holds the salt, derived-key digest, and scrypt costs needed
// to rederive and verify a SecretKey.  Parameters are not secret and may
// be stored in the clear.
type Parameters struct {
	Salt   [KeySize]byte
	Digest [sha256.Size]byte
	N      int
	R      int
	P      int
}

// marshalledParamsLen is the length of a marshalled Parameters blob:
// salt, digest, and three 8-byte integers.
const marshalledParamsLen = KeySize + sha256.Size + 3*8

// SecretKey is a CryptoKey derived from a passphrase via scrypt together
// with the parameters needed to rederive it.
type SecretKey struct {
	Key        *CryptoKey
	Parameters Parameters
}

// deriveKey fills in sk.Key from the password and stored parameters.
func (sk *SecretKey) deriveKey(password *[]byte) error {
	key, err := scrypt.Key(*password, sk.Parameters.Salt[:],
		sk.Parameters.N, sk.Parameters.R, sk.Parameters.P, KeySize)
	if err != nil {
		return err
	}
	copy(sk.Key[:], key)
	zero.Bytes(key)

	// scrypt allocates large temporary buffers.  Returning the memory
	// eagerly keeps back-to-back derivations from doubling the
	// process footprint.
	debug.FreeOSMemory()

	return nil
}

// Marshal serializes the key parameters for storage as
// <salt><digest><N><R><P> with little-endian 8-byte integers.
func (sk *SecretKey) Marshal() []byte {
	params := &sk.Parameters

	marshalled := make([]byte, marshalledParamsLen)
	b := marshalled
	copy(b, params.Salt[:])
	b = b[KeySize:]
	copy(b, params.Digest[:])
	b = b[sha256.Size:]
	binary.LittleEndian.PutUint64(b, uint64(params.N))
	b = b[8:]
	binary.LittleEndian.PutUint64(b, uint64(params.R))
	b = b[8:]
	binary.LittleEndian.PutUint64(b, uint64(params.P))

	return marshalled
}

// Unmarshal restores the key parameters from a Marshal blob, allocating
// the CryptoKey to derive into if needed.
func (sk *SecretKey) Unmarshal(marshalled []byte) error {
	if sk.Key == nil {
		sk.Key = &CryptoKey{}
	}
	if len(marshalled) != marshalledParamsLen {
		return ErrMalformed
	}

	params := &sk.Parameters
	copy(params.Salt[:], marshalled[:KeySize])
	marshalled = marshalled[KeySize:]
	copy(params.Digest[:], marshalled[:sha256.Size])
	marshalled = marshalled[sha256.Size:]
	params.N = int(binary.LittleEndian.Uint64(marshalled))
	marshalled = marshalled[8:]
	params.R = int(binary.LittleEndian.Uint64(marshalled))
	marshalled = marshalled[8:]
	params.P = int(binary.LittleEndian.Uint64(marshalled))

	return nil
}

// Zero clears the derived key material from memory.  The parameters are
// retained so the key can be rederived later.
func (sk *SecretKey) Zero() {
	sk.Key.Zero()
}

// DeriveKey rederives the key from the password and verifies it against
// the stored digest, returning ErrInvalidPassword on mismatch.
func (sk *SecretKey) DeriveKey(password *[]byte) error {
	if err := sk.deriveKey(password); err != nil {
		return err
	}

	digest := sha256.Sum256(sk.Key[:])
	if subtle.ConstantTimeCompare(digest[:], sk.Parameters.Digest[:]) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// Encrypt seals in with the derived key.
func (sk *SecretKey) Encrypt(in []byte) ([]byte, error) {
	return sk.Key.Encrypt(in)
}

// Decrypt opens a blob sealed with the derived key.
func (sk *SecretKey) Decrypt(in []byte) ([]byte, error) {
	return sk.Key.Decrypt(in)
}

// NewSecretKey derives a new SecretKey from the password with a random
// salt and the given scrypt costs.
func NewSecretKey(password *[]byte, n, r, p int) (*SecretKey, error) {
	sk := SecretKey{Key: &CryptoKey{}}
	sk.Parameters.N = n
	sk.Parameters.R = r
	sk.Parameters.P = p
	if _, err := io.ReadFull(prng, sk.Parameters.Salt[:]); err != nil {
		return nil, err
	}

	if err := sk.deriveKey(password); err != nil {
		return nil, err
	}
	sk.Parameters.Digest = sha256.Sum256(sk.Key[:])

	return &sk, nil
}

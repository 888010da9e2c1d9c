// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vault provides encrypted custody of payout wallet private
// keys.
//
// The vault uses a two-level key scheme.  A master key derived from the
// operator passphrase via scrypt encrypts a random 32-byte crypto key,
// and each wallet private key is encrypted under the crypto key.  Only
// ciphertext ever crosses the storage boundary; plaintext keys live in
// memory for the duration of a signing operation and are zeroed
// afterwards.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/dicepay/dicepayd/internal/zero"
)

// Options tunes the scrypt costs of the master key derivation.  Zero
// values fall back to the defaults.  Tests pass small costs to keep key
// derivation fast.
type Options struct {
	ScryptN int
	ScryptR int
	ScryptP int
}

// Vault holds the master key and the in-memory crypto key guarding all
// wallet private keys.
type Vault struct {
	mtx sync.Mutex

	net *chaincfg.Params

	masterKey    *SecretKey
	cryptoKey    CryptoKey
	encCryptoKey []byte

	locked bool
}

// Create builds a new vault from a passphrase.  The caller persists the
// result of Marshal to reopen it later.
func Create(passphrase []byte, net *chaincfg.Params,
	opts *Options) (*Vault, error) {

	if len(passphrase) == 0 {
		return nil, vaultError(ErrWrongPassphrase,
			"passphrase must not be empty", nil)
	}

	n, r, p := DefaultN, DefaultR, DefaultP
	if opts != nil && opts.ScryptN != 0 {
		n, r, p = opts.ScryptN, opts.ScryptR, opts.ScryptP
	}

	masterKey, err := NewSecretKey(&passphrase, n, r, p)
	if err != nil {
		return nil, vaultError(ErrCrypto,
			"failed to derive master key", err)
	}

	cryptoKey, err := GenerateCryptoKey()
	if err != nil {
		masterKey.Zero()
		return nil, vaultError(ErrCrypto,
			"failed to generate crypto key", err)
	}

	encCryptoKey, err := masterKey.Encrypt(cryptoKey[:])
	if err != nil {
		masterKey.Zero()
		cryptoKey.Zero()
		return nil, vaultError(ErrCrypto,
			"failed to encrypt crypto key", err)
	}

	v := &Vault{
		net:          net,
		masterKey:    masterKey,
		encCryptoKey: encCryptoKey,
	}
	copy(v.cryptoKey[:], cryptoKey[:])
	cryptoKey.Zero()

	log.Infof("Created new key vault for %s", net.Name)
	return v, nil
}

// Open reconstructs a vault from its marshalled master key parameters
// and encrypted crypto key.  A passphrase that does not derive the
// master key fails with ErrWrongPassphrase.
func Open(params, encCryptoKey, passphrase []byte,
	net *chaincfg.Params) (*Vault, error) {

	masterKey := &SecretKey{Key: &CryptoKey{}}
	if err := masterKey.Unmarshal(params); err != nil {
		return nil, vaultError(ErrCorruptVault,
			"malformed master key parameters", err)
	}

	if err := masterKey.DeriveKey(&passphrase); err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return nil, vaultError(ErrWrongPassphrase,
				"wrong vault passphrase", err)
		}
		return nil, vaultError(ErrCrypto,
			"failed to derive master key", err)
	}

	plainKey, err := masterKey.Decrypt(encCryptoKey)
	if err != nil {
		masterKey.Zero()
		return nil, vaultError(ErrCrypto,
			"failed to decrypt crypto key", err)
	}
	if len(plainKey) != KeySize {
		masterKey.Zero()
		zero.Bytes(plainKey)
		return nil, vaultError(ErrCorruptVault,
			"crypto key has wrong length", nil)
	}

	v := &Vault{
		net:          net,
		masterKey:    masterKey,
		encCryptoKey: append([]byte(nil), encCryptoKey...),
	}
	copy(v.cryptoKey[:], plainKey)
	zero.Bytes(plainKey)

	log.Infof("Opened key vault for %s", net.Name)
	return v, nil
}

// Marshal returns the master key parameters and the encrypted crypto
// key for persistence.  Neither blob is secret on its own.
func (v *Vault) Marshal() (params, encCryptoKey []byte) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	return v.masterKey.Marshal(),
		append([]byte(nil), v.encCryptoKey...)
}

// Net returns the Bitcoin network the vault's keys belong to.
func (v *Vault) Net() *chaincfg.Params {
	return v.net
}

// EncryptPrivKey encrypts a private key under the crypto key.  The
// returned ciphertext is what gets persisted alongside the wallet.
func (v *Vault) EncryptPrivKey(priv *btcec.PrivateKey) ([]byte, error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	if v.locked {
		return nil, vaultError(ErrLocked, "vault is locked", nil)
	}

	serialized := priv.Serialize()
	defer zero.Bytes(serialized)

	enc, err := v.cryptoKey.Encrypt(serialized)
	if err != nil {
		return nil, vaultError(ErrCrypto,
			"failed to encrypt private key", err)
	}
	return enc, nil
}

// PrivKey decrypts a stored private key ciphertext.  The caller owns
// the returned key and must call Zero on it as soon as signing is done.
func (v *Vault) PrivKey(encrypted []byte) (*btcec.PrivateKey, error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	if v.locked {
		return nil, vaultError(ErrLocked, "vault is locked", nil)
	}

	plain, err := v.cryptoKey.Decrypt(encrypted)
	if err != nil {
		return nil, vaultError(ErrCrypto,
			"failed to decrypt private key", err)
	}
	if len(plain) != btcec.PrivKeyBytesLen {
		zero.Bytes(plain)
		return nil, vaultError(ErrCorruptVault,
			"decrypted private key has wrong length", nil)
	}

	priv, _ := btcec.PrivKeyFromBytes(plain)
	zero.Bytes(plain)
	return priv, nil
}

// ImportWIF decodes a WIF private key, checks it belongs to the vault's
// network, and returns it with its pay-to-pubkey-hash address.
func (v *Vault) ImportWIF(encoded string) (*btcutil.WIF, btcutil.Address, error) {
	wif, err := btcutil.DecodeWIF(encoded)
	if err != nil {
		return nil, nil, vaultError(ErrInvalidWIF,
			"failed to decode WIF", err)
	}
	if !wif.IsForNet(v.net) {
		return nil, nil, vaultError(ErrWrongNet,
			fmt.Sprintf("key is not for the %s network",
				v.net.Name), nil)
	}

	pkHash := btcutil.Hash160(wif.SerializePubKey())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, v.net)
	if err != nil {
		return nil, nil, vaultError(ErrInvalidWIF,
			"failed to derive address", err)
	}
	return wif, addr, nil
}

// Lock zeroes all key material.  Every later EncryptPrivKey or PrivKey
// call fails with ErrLocked.  Locking twice is a no-op.
func (v *Vault) Lock() {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	if v.locked {
		return
	}
	v.cryptoKey.Zero()
	v.masterKey.Zero()
	v.locked = true

	log.Info("Key vault locked")
}

// Locked reports whether the vault's key material has been zeroed.
func (v *Vault) Locked() bool {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.locked
}

// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vault_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/dicepay/dicepayd/vault"
)

// fastOpts keeps master key derivation fast in tests.
var fastOpts = &vault.Options{ScryptN: 16, ScryptR: 8, ScryptP: 1}

var testPassphrase = []byte("test-passphrase")

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()

	v, err := vault.Create(testPassphrase, &chaincfg.MainNetParams,
		fastOpts)
	require.NoError(t, err)
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	enc, err := v.EncryptPrivKey(priv)
	require.NoError(t, err)
	require.NotEqual(t, priv.Serialize(), enc)

	// Reopen from the marshalled state and decrypt with the new
	// instance, proving the crypto key survives persistence.
	params, encCryptoKey := v.Marshal()
	reopened, err := vault.Open(params, encCryptoKey, testPassphrase,
		&chaincfg.MainNetParams)
	require.NoError(t, err)

	got, err := reopened.PrivKey(enc)
	require.NoError(t, err)
	require.True(t, bytes.Equal(priv.Serialize(), got.Serialize()))
}

func TestVaultWrongPassphrase(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	params, encCryptoKey := v.Marshal()

	_, err := vault.Open(params, encCryptoKey, []byte("wrong"),
		&chaincfg.MainNetParams)
	require.True(t, vault.IsError(err, vault.ErrWrongPassphrase),
		"got %v", err)
}

func TestVaultEmptyPassphrase(t *testing.T) {
	t.Parallel()

	_, err := vault.Create(nil, &chaincfg.MainNetParams, fastOpts)
	require.True(t, vault.IsError(err, vault.ErrWrongPassphrase))
}

func TestVaultLock(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	enc, err := v.EncryptPrivKey(priv)
	require.NoError(t, err)

	require.False(t, v.Locked())
	v.Lock()
	require.True(t, v.Locked())

	_, err = v.EncryptPrivKey(priv)
	require.True(t, vault.IsError(err, vault.ErrLocked))

	_, err = v.PrivKey(enc)
	require.True(t, vault.IsError(err, vault.ErrLocked))

	// Locking twice is a no-op.
	v.Lock()
	require.True(t, v.Locked())
}

func TestVaultCorruptCiphertext(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	enc, err := v.EncryptPrivKey(priv)
	require.NoError(t, err)

	enc[len(enc)-1] ^= 0x40
	_, err = v.PrivKey(enc)
	require.True(t, vault.IsError(err, vault.ErrCrypto), "got %v", err)
}

func TestImportWIF(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	require.NoError(t, err)

	imported, addr, err := v.ImportWIF(wif.String())
	require.NoError(t, err)
	require.True(t, bytes.Equal(priv.Serialize(),
		imported.PrivKey.Serialize()))
	require.True(t, addr.IsForNet(&chaincfg.MainNetParams))

	// A key encoded for another network is rejected.
	tnWIF, err := btcutil.NewWIF(priv, &chaincfg.TestNet3Params, true)
	require.NoError(t, err)
	_, _, err = v.ImportWIF(tnWIF.String())
	require.True(t, vault.IsError(err, vault.ErrWrongNet), "got %v", err)

	// Garbage is rejected outright.
	_, _, err = v.ImportWIF("not-a-wif")
	require.True(t, vault.IsError(err, vault.ErrInvalidWIF), "got %v", err)
}

func TestVaultFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vault.bin")
	v := newTestVault(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	enc, err := v.EncryptPrivKey(priv)
	require.NoError(t, err)

	require.NoError(t, v.WriteFile(path))

	reopened, err := vault.OpenFile(path, testPassphrase,
		&chaincfg.MainNetParams)
	require.NoError(t, err)

	got, err := reopened.PrivKey(enc)
	require.NoError(t, err)
	require.True(t, bytes.Equal(priv.Serialize(), got.Serialize()))

	_, err = vault.OpenFile(path, []byte("wrong"),
		&chaincfg.MainNetParams)
	require.True(t, vault.IsError(err, vault.ErrWrongPassphrase))
}

func TestVaultFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := vault.OpenFile(filepath.Join(dir, "missing.bin"),
		testPassphrase, &chaincfg.MainNetParams)
	require.True(t, vault.IsError(err, vault.ErrIO), "got %v", err)

	path := filepath.Join(dir, "corrupt.bin")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))
	_, err = vault.OpenFile(path, testPassphrase, &chaincfg.MainNetParams)
	require.True(t, vault.IsError(err, vault.ErrCorruptVault),
		"got %v", err)
}

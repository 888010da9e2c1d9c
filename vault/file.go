// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// vaultMagic identifies a dicepay vault file.  The trailing byte is the
// format version.
var vaultMagic = [8]byte{'D', 'P', 'V', 'A', 'U', 'L', 'T', 1}

// WriteFile persists the vault's master key parameters and encrypted
// crypto key to path with owner-only permissions.  The data is written
// to a temporary file first and renamed into place, so a crash mid-write
// never clobbers an existing vault.  In case of failure, the most recent
// temporary file can be inspected for validity and moved to replace the
// main file.
func (v *Vault) WriteFile(path string) error {
	params, encCryptoKey := v.Marshal()

	var buf bytes.Buffer
	buf.Write(vaultMagic[:])
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(params)))
	buf.Write(lenBytes[:])
	buf.Write(params)
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(encCryptoKey)))
	buf.Write(lenBytes[:])
	buf.Write(encCryptoKey)

	tmpPath := path + "-" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return vaultError(ErrIO,
			fmt.Sprintf("failed to write vault file %s", tmpPath),
			err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return vaultError(ErrIO,
			fmt.Sprintf("failed to rename vault file to %s", path),
			err)
	}

	log.Debugf("Wrote vault file %s", path)
	return nil
}

// OpenFile reads a vault file written by WriteFile and opens the vault
// with the given passphrase.
func OpenFile(path string, passphrase []byte,
	net *chaincfg.Params) (*Vault, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vaultError(ErrIO,
			fmt.Sprintf("failed to read vault file %s", path), err)
	}

	params, encCryptoKey, err := parseVaultFile(data)
	if err != nil {
		return nil, err
	}
	return Open(params, encCryptoKey, passphrase, net)
}

// parseVaultFile splits a vault file into its two blobs.
func parseVaultFile(data []byte) (params, encCryptoKey []byte, err error) {
	corrupt := func(desc string) error {
		return vaultError(ErrCorruptVault, desc, nil)
	}

	if len(data) < len(vaultMagic) {
		return nil, nil, corrupt("vault file is truncated")
	}
	if !bytes.Equal(data[:len(vaultMagic)], vaultMagic[:]) {
		return nil, nil, corrupt("not a dicepay vault file")
	}
	data = data[len(vaultMagic):]

	readBlob := func() ([]byte, error) {
		if len(data) < 4 {
			return nil, corrupt("vault file is truncated")
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, corrupt("vault file is truncated")
		}
		blob := data[:n]
		data = data[n:]
		return blob, nil
	}

	if params, err = readBlob(); err != nil {
		return nil, nil, err
	}
	if encCryptoKey, err = readBlob(); err != nil {
		return nil, nil, err
	}
	if len(data) != 0 {
		return nil, nil, corrupt("trailing data in vault file")
	}
	return params, encCryptoKey, nil
}

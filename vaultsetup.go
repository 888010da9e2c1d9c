// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/dicepay/dicepayd/internal/prompt"
	"github.com/dicepay/dicepayd/internal/zero"
	"github.com/dicepay/dicepayd/vault"
)

// networkDir returns the directory name of a network directory to hold
// dicepayd files.
func networkDir(dataDir string, chainParams *chaincfg.Params) string {
	netname := chainParams.Name

	// For now, we must always name the testnet data directory as
	// "testnet" and not "testnet3" or any other version, as the
	// chaincfg testnet3 paramaters will likely be switched to being
	// named "testnet3" in the future.  This is done to future proof
	// that change, and an upgrade plan to move the testnet3 data
	// directory can be worked out later.
	if chainParams.Net == wire.TestNet3 {
		netname = "testnet"
	}

	return filepath.Join(dataDir, netname)
}

// checkCreateDir checks that the path exists and is a directory.
// If path does not exist, it is created.
func checkCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Attempt data directory creation
			if err = os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %s", err)
			}
		} else {
			return fmt.Errorf("error checking directory: %s", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("path '%s' is not a directory", path)
		}
	}

	return nil
}

// readPassphraseFile loads the vault passphrase from a file.  The file
// must not be accessible to other users, since it guards every payout
// wallet key.
func readPassphraseFile(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("passphrase file %s must not be "+
			"accessible to other users (mode %04o)", path,
			fi.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pass := bytes.TrimRight(data, "\r\n")
	if len(pass) == 0 {
		return nil, fmt.Errorf("passphrase file %s is empty", path)
	}
	return pass, nil
}

// passphrase resolves the vault passphrase from the configured file, or
// prompts for it when no file is configured.  confirm selects the
// double-entry prompt used when creating a new vault.
func passphrase(cfg *config, confirm bool) ([]byte, error) {
	if cfg.PassphraseFile != "" {
		return readPassphraseFile(cfg.PassphraseFile)
	}

	reader := bufio.NewReader(os.Stdin)
	if confirm {
		return prompt.VaultPass(reader)
	}
	return prompt.ExistingVaultPass(reader)
}

// createVault writes a fresh key vault to the configured path.  Payout
// wallets are registered into it afterwards with the importwallet
// option.
func createVault(cfg *config) error {
	pass, err := passphrase(cfg, true)
	if err != nil {
		return err
	}
	defer zero.Bytes(pass)

	fmt.Println("Creating the vault...")
	v, err := vault.Create(pass, activeNet.Params, nil)
	if err != nil {
		return err
	}
	defer v.Lock()

	if err := v.WriteFile(cfg.Vault); err != nil {
		return err
	}

	fmt.Println("The vault has been created successfully.")
	return nil
}

// openVault reads the configured vault file and unlocks it.
func openVault(cfg *config) (*vault.Vault, error) {
	pass, err := passphrase(cfg, false)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(pass)

	return vault.OpenFile(cfg.Vault, pass, activeNet.Params)
}

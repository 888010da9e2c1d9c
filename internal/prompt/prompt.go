// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !js

package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptList prompts the user with the given prefix, list of valid
// responses, and default list entry to use.  The function will repeat
// the prompt to the user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string, defaultEntry string) (string, error) {
	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given
// prefix.  The function will repeat the prompt to the user until they
// enter a valid response.
func promptListBool(reader *bufio.Reader, prefix string, defaultEntry string) (bool, error) {
	// Setup the valid responses.
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// PassPrompt prompts the user for a passphrase with the given prefix.
// The function will ask the user to confirm the passphrase and will
// repeat the prompts until they enter a matching response.
func PassPrompt(reader *bufio.Reader, prefix string, confirm bool) ([]byte, error) {
	// Prompt the user until they enter a passphrase.
	prompt := fmt.Sprintf("%s: ", prefix)
	for {
		fmt.Print(prompt)
		var pass []byte
		var err error
		if term.IsTerminal(int(os.Stdin.Fd())) {
			pass, err = term.ReadPassword(int(os.Stdin.Fd()))
		} else {
			pass, err = readLine(reader)
		}
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm passphrase: ")
		var confirm []byte
		if term.IsTerminal(int(os.Stdin.Fd())) {
			confirm, err = term.ReadPassword(int(os.Stdin.Fd()))
		} else {
			confirm, err = readLine(reader)
		}
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		confirm = bytes.TrimSpace(confirm)
		if !bytes.Equal(pass, confirm) {
			fmt.Println("The entered passphrases do not match")
			continue
		}

		return pass, nil
	}
}

// readLine reads a single line from the reader for passphrase entry on
// inputs that are not terminals, such as pipes in tests and scripts.
func readLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// VaultPass prompts the user for the passphrase protecting a new key
// vault.  All prompts are repeated until the user enters a valid
// response.
func VaultPass(reader *bufio.Reader) ([]byte, error) {
	for {
		pass, err := PassPrompt(reader, "Enter the passphrase for "+
			"your new key vault", true)
		if err != nil {
			return nil, err
		}

		fmt.Println("NOTE: the passphrase encrypts every payout " +
			"wallet key.  There is no recovery if it is lost.")
		usepass, err := promptListBool(reader, "Continue with this "+
			"passphrase?", "yes")
		if err != nil {
			return nil, err
		}
		if !usepass {
			continue
		}
		return pass, nil
	}
}

// ExistingVaultPass prompts the user for the passphrase of an existing
// key vault.  The response is not confirmed, since a typo fails to open
// the vault anyway.
func ExistingVaultPass(reader *bufio.Reader) ([]byte, error) {
	return PassPrompt(reader, "Enter the key vault passphrase", false)
}

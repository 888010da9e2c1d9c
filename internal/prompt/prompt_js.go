// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"fmt"
)

func PassPrompt(_ *bufio.Reader, _ string, _ bool) ([]byte, error) {
	return nil, fmt.Errorf("prompt not supported in WebAssembly")
}

func VaultPass(_ *bufio.Reader) ([]byte, error) {
	return nil, fmt.Errorf("prompt not supported in WebAssembly")
}

func ExistingVaultPass(_ *bufio.Reader) ([]byte, error) {
	return nil, fmt.Errorf("prompt not supported in WebAssembly")
}

// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// verifyroll recomputes a dice roll from published provable-fairness
// values.  Given a revealed server seed, a client seed, and a bet nonce,
// it prints the commitment the seed hashes to and the roll the daemon
// must have produced, so a settled bet can be audited without trusting
// the operator.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/dicepay/dicepayd/fair"
)

// Flags.
var opts = struct {
	Seed       string `long:"seed" description:"Revealed server seed (hex)"`
	ClientSeed string `long:"clientseed" description:"Client seed of the bet -- the deposit txid unless the operator published a fixed seed"`
	Nonce      uint64 `long:"nonce" description:"Nonce assigned to the bet"`
	Commitment string `long:"commitment" description:"Published commitment to compare the seed against"`
	Multiplier int64  `long:"multiplier" description:"Wallet payout multiplier in hundredths, such as 196 for 1.96x"`
}{}

func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}
}

func main() {
	os.Exit(mainInt())
}

func mainInt() int {
	if opts.Seed == "" {
		fmt.Println("No server seed provided.  Seeds are revealed once " +
			"their retention window")
		fmt.Println("passes; query one with dicepayd --showseed=YYYY-MM-DD.")
		return 1
	}

	commitment := fair.SeedCommitment(opts.Seed)
	fmt.Println("Commitment:", commitment)
	if opts.Commitment != "" {
		if opts.Commitment != commitment {
			fmt.Println("MISMATCH: the seed does not hash to the " +
				"published commitment")
			return 1
		}
		fmt.Println("The seed matches the published commitment.")
	}

	if opts.ClientSeed == "" {
		return 0
	}

	roll := fair.Roll(opts.Seed, opts.ClientSeed, opts.Nonce)
	fmt.Printf("Roll:       %s\n", fair.FormatBps(roll))

	if opts.Multiplier != 0 {
		chance, err := fair.WinChanceBps(opts.Multiplier)
		if err != nil {
			fmt.Println(err)
			return 1
		}
		fmt.Printf("Win chance: %s%%\n", fair.FormatBps(chance))
		if fair.IsWin(roll, chance) {
			fmt.Println("Outcome:    win")
		} else {
			fmt.Println("Outcome:    loss")
		}
	}
	return 0
}

// derive_address.go prints the settlement address for a mnemonic file.
// Usage: go run scripts/derive_address.go <mnemonic-file>
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/utxotab/facilitator/internal/wallet"
	"github.com/utxotab/facilitator/pkg/bch"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_address <mnemonic-file>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mnemonic := strings.TrimSpace(string(data))
	if !wallet.ValidateMnemonic(mnemonic) {
		fmt.Fprintln(os.Stderr, "invalid mnemonic")
		os.Exit(1)
	}
	master, err := wallet.NewMasterKey(wallet.SeedFromMnemonic(mnemonic))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	key, err := master.DeriveAddressKey(0, wallet.ChangeExternal, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	addr, err := key.Address(bch.MainnetPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("address:", addr)
}

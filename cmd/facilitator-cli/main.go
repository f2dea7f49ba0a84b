// facilitator-cli is a command-line client for a running facilitatord.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/utxotab/facilitator/internal/facilitator"
	"github.com/utxotab/facilitator/internal/ledger"
	"github.com/utxotab/facilitator/internal/wallet"
	"github.com/utxotab/facilitator/pkg/bch"
	"github.com/utxotab/facilitator/pkg/crypto"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	url := "http://127.0.0.1:4345"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--url" && len(args) > 1:
			url = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--url="):
			url = args[0][len("--url="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	url = strings.TrimRight(url, "/")
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "supported":
		cmdSupported(url)
	case "health":
		cmdHealth(url)
	case "verify":
		cmdPayment(url, "/verify", cmdArgs)
	case "settle":
		cmdPayment(url, "/settle", cmdArgs)
	case "sign":
		cmdSign(cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: facilitator-cli [global flags] <command> [flags]

Global flags:
  --url <url>    Facilitator endpoint (default: http://127.0.0.1:4345)

Commands:
  supported                       Show supported schemes and networks
  health                          Check facilitator health
  verify <payload.json> <requirements.json>
                                  Verify a payment
  settle <payload.json> <requirements.json>
                                  Verify and settle a payment
  sign --mnemonic <words> --to <addr> --value <sat> [--txid <id> --vout <n>]
                                  Build and sign a payment payload
`)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func cmdSupported(url string) {
	get(url + "/supported")
}

func cmdHealth(url string) {
	get(url + "/healthz")
}

func get(url string) {
	resp, err := httpClient().Get(url)
	if err != nil {
		fatal("request failed: %v", err)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

// cmdPayment posts the verify/settle envelope built from two JSON files.
func cmdPayment(url, path string, args []string) {
	if len(args) != 2 {
		fatal("usage: facilitator-cli %s <payload.json> <requirements.json>", strings.TrimPrefix(path, "/"))
	}

	payload, err := os.ReadFile(args[0])
	if err != nil {
		fatal("read payload: %v", err)
	}
	requirements, err := os.ReadFile(args[1])
	if err != nil {
		fatal("read requirements: %v", err)
	}

	body, err := json.Marshal(map[string]json.RawMessage{
		"x402Version":         json.RawMessage("2"),
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	})
	if err != nil {
		fatal("build request: %v", err)
	}

	resp, err := httpClient().Post(url+path, "application/json", bytes.NewReader(body))
	if err != nil {
		fatal("request failed: %v", err)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

// cmdSign derives the wallet key from a mnemonic, signs an authorization
// and prints the complete payment payload.
func cmdSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic of the paying wallet")
	to := fs.String("to", "", "recipient address")
	value := fs.Int64("value", 0, "payment value in satoshis")
	txid := fs.String("txid", facilitator.TxIDAny, "funding transaction id (omit to pay from any open tab)")
	voutFlag := fs.Uint("vout", 0, "funding output index")
	fs.Parse(args)

	if *mnemonic == "" || *to == "" || *value <= 0 {
		fatal("sign requires --mnemonic, --to and a positive --value")
	}
	if !wallet.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}

	master, err := wallet.NewMasterKey(wallet.SeedFromMnemonic(*mnemonic))
	if err != nil {
		fatal("derive key: %v", err)
	}
	hd, err := master.DeriveAddressKey(0, wallet.ChangeExternal, 0)
	if err != nil {
		fatal("derive key: %v", err)
	}
	key, err := hd.PrivateKey()
	if err != nil {
		fatal("derive key: %v", err)
	}
	from, err := hd.Address(bch.MainnetPrefix)
	if err != nil {
		fatal("derive address: %v", err)
	}

	auth := facilitator.Authorization{
		From:  from,
		To:    *to,
		Value: ledger.Satoshis(*value),
		TxID:  *txid,
	}
	if *txid != facilitator.TxIDAny {
		v := uint32(*voutFlag)
		auth.Vout = &v
	}

	message, err := auth.SigningMessage()
	if err != nil {
		fatal("serialize authorization: %v", err)
	}

	payload := facilitator.PaymentPayload{
		Accepted: &facilitator.Accepted{Scheme: facilitator.SchemeUTXO, Network: "bch"},
		Payload: &facilitator.ExactPayload{
			Signature:     crypto.SignMessage(key, message),
			Authorization: &auth,
		},
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fatal("marshal payload: %v", err)
	}
	fmt.Println(string(out))
}

func printJSON(r io.Reader) {
	data, err := io.ReadAll(r)
	if err != nil {
		fatal("read response: %v", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "sale":
		return runSaleCommand(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "receipts":
		return runReceiptsCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  salectl <command> [flags]

Commands:
  keygen    Generate a new identity and write it to an encrypted keystore
  address   Print the identity stored in a keystore
  token     Sign a bearer token for the saled API
  sale      Create, inspect and operate token sales
  balance   Show an account balance for an asset
  receipts  Verify or export the receipt journal

Environment:
  SALE_ENDPOINT     saled base URL (default http://127.0.0.1:8088)
  SALE_TOKEN        bearer token sent with API calls
  SALE_IDENTITY     caller identity sent when the API runs without auth
  SALE_KEY_PASS     keystore passphrase
  SALE_AUTH_SECRET  HMAC secret used by "salectl token"`)
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

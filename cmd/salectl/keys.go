package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"tokensale/cmd/internal/secret"
	"tokensale/crypto"
	"tokensale/rpc/middleware"
)

var (
	keystorePassphrase = func() (string, error) {
		return secret.NewSource("SALE_KEY_PASS", "keystore passphrase").Get()
	}
	authSecret = func() (string, error) {
		return secret.NewSource("SALE_AUTH_SECRET", "auth secret").Get()
	}
	cliNow = time.Now
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		out   string
		light bool
	)
	fs.StringVar(&out, "out", "", "path of the keystore file to write")
	fs.BoolVar(&light, "light", false, "use light scrypt parameters (testing only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	if strings.TrimSpace(out) == "" {
		return printError(stderr, "--out is required")
	}
	passphrase, err := keystorePassphrase()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	cost := crypto.StandardKeystoreCost
	if light {
		cost = crypto.LightKeystoreCost
	}
	if err := crypto.WriteKeystore(out, key, passphrase, cost); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Identity: %s\nKeystore: %s\n", key.PubKey().Address().String(), out)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var path string
	fs.StringVar(&path, "keystore", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(path) == "" {
		return printError(stderr, "--keystore is required")
	}
	identity, err := identityFromKeystore(path)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, identity)
	return 0
}

func identityFromKeystore(path string) (string, error) {
	passphrase, err := keystorePassphrase()
	if err != nil {
		return "", err
	}
	key, err := crypto.ReadKeystore(path, passphrase)
	if err != nil {
		return "", err
	}
	return key.PubKey().Address().String(), nil
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		subject  string
		keystore string
		issuer   string
		audience string
		ttl      time.Duration
	)
	fs.StringVar(&subject, "subject", "", "identity the token authenticates")
	fs.StringVar(&keystore, "keystore", "", "derive the subject from this keystore instead of --subject")
	fs.StringVar(&issuer, "issuer", "", "token issuer claim")
	fs.StringVar(&audience, "audience", "", "token audience claim")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	switch {
	case subject != "" && keystore != "":
		return printError(stderr, "--subject and --keystore are mutually exclusive")
	case subject == "" && keystore == "":
		return printError(stderr, "--subject or --keystore is required")
	}
	if ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	if keystore != "" {
		derived, err := identityFromKeystore(keystore)
		if err != nil {
			return printError(stderr, err.Error())
		}
		subject = derived
	}
	if _, err := crypto.ParseIdentity(subject); err != nil {
		return printError(stderr, fmt.Sprintf("--subject: %v", err))
	}
	key, err := authSecret()
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := middleware.IssueToken([]byte(key), middleware.TokenRequest{
		Subject:  subject,
		Issuer:   issuer,
		Audience: audience,
		TTL:      ttl,
		Now:      cliNow(),
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"tokensale/crypto"
	"tokensale/native/bank"
	"tokensale/rpc"
)

func runSaleCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, saleUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runSaleCreate(args[1:], stdout, stderr)
	case "get":
		return runSaleByID("sale get", http.MethodGet, "", args[1:], stdout, stderr)
	case "list":
		return runSaleList(args[1:], stdout, stderr)
	case "register":
		return runSaleByID("sale register", http.MethodPost, "/buyers", args[1:], stdout, stderr)
	case "buyer":
		return runSaleBuyer(args[1:], stdout, stderr)
	case "buy":
		return runSaleAmount("sale buy", "/purchase", args[1:], stdout, stderr)
	case "quote":
		return runSaleAmount("sale quote", "/quote", args[1:], stdout, stderr)
	case "cancel":
		return runSaleByID("sale cancel", http.MethodPost, "/cancel", args[1:], stdout, stderr)
	case "pause":
		return runSaleByID("sale pause", http.MethodPost, "/pause", args[1:], stdout, stderr)
	case "update":
		return runSaleUpdate(args[1:], stdout, stderr)
	case "audit":
		return runSaleByID("sale audit", http.MethodGet, "/audit", args[1:], stdout, stderr)
	case "receipts":
		return runSaleReceipts(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown sale subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, saleUsage())
		return 1
	}
}

func saleUsage() string {
	return strings.TrimSpace(`Usage:
  salectl sale <command> [flags]

Commands:
  create    Open a sale and move the supply into its vault
  get       Fetch a sale by id
  list      List sales, optionally only active ones or one seller's
  register  Register the caller as a buyer
  buyer     Show a buyer's purchase record
  buy       Purchase tokens at the sale price
  quote     Price a purchase without executing it
  cancel    Cancel a sale and return unsold supply to the seller
  pause     Toggle the sale's paused flag
  update    Change price, window or cap before the window opens
  audit     Reconcile the sale against its vault and buyer records
  receipts  List committed receipts for the sale`)
}

func newSaleFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := newFlagSet(name, stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, saleUsage())
	}
	return fs
}

func salePath(id, suffix string) string {
	return "/v1/sales/" + url.PathEscape(id) + suffix
}

func runSaleCreate(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale create", stderr)
	opts := registerAPIFlags(fs)
	var (
		asset        string
		paymentAsset string
		price        string
		supply       string
		start        string
		end          string
		buyerCap     string
		feeBps       uint
		feeRecipient string
	)
	fs.StringVar(&asset, "asset", "", "symbol of the token being sold")
	fs.StringVar(&paymentAsset, "payment-asset", "", "symbol buyers pay with")
	fs.StringVar(&price, "price", "", "payment units per token")
	fs.StringVar(&supply, "supply", "", "tokens moved into the sale vault")
	fs.StringVar(&start, "start", "", "window start as unix seconds, RFC3339 or +duration")
	fs.StringVar(&end, "end", "", "window end as unix seconds, RFC3339 or +duration")
	fs.StringVar(&buyerCap, "cap", "", "optional per-buyer token cap")
	fs.UintVar(&feeBps, "fee-bps", 0, "platform fee in basis points")
	fs.StringVar(&feeRecipient, "fee-recipient", "", "identity receiving the platform fee")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	for _, required := range []struct{ name, value string }{
		{"--asset", asset},
		{"--payment-asset", paymentAsset},
		{"--price", price},
		{"--supply", supply},
		{"--start", start},
		{"--end", end},
		{"--fee-recipient", feeRecipient},
	} {
		if strings.TrimSpace(required.value) == "" {
			return printError(stderr, required.name+" is required")
		}
	}
	req := rpc.CreateSaleRequest{PlatformFeeBps: uint32(feeBps)}
	var err error
	if req.Asset, err = normalizeAssetFlag("--asset", asset); err != nil {
		return printError(stderr, err.Error())
	}
	if req.PaymentAsset, err = normalizeAssetFlag("--payment-asset", paymentAsset); err != nil {
		return printError(stderr, err.Error())
	}
	if req.PricePerUnit, err = normalizeAmount("--price", price); err != nil {
		return printError(stderr, err.Error())
	}
	if req.TotalSupply, err = normalizeAmount("--supply", supply); err != nil {
		return printError(stderr, err.Error())
	}
	now := cliNow()
	if req.WindowStart, err = parseTimestamp("--start", start, now); err != nil {
		return printError(stderr, err.Error())
	}
	if req.WindowEnd, err = parseTimestamp("--end", end, now); err != nil {
		return printError(stderr, err.Error())
	}
	if req.WindowEnd <= req.WindowStart {
		return printError(stderr, "--end must be after --start")
	}
	if buyerCap != "" {
		if req.PerBuyerCap, err = normalizeAmount("--cap", buyerCap); err != nil {
			return printError(stderr, err.Error())
		}
	}
	if feeBps > 10_000 {
		return printError(stderr, "--fee-bps must be <= 10000")
	}
	if _, err := crypto.ParseIdentity(feeRecipient); err != nil {
		return printError(stderr, fmt.Sprintf("--fee-recipient: %v", err))
	}
	req.FeeRecipient = feeRecipient
	return doAPI(stdout, stderr, opts, http.MethodPost, "/v1/sales", req)
}

// runSaleByID handles the subcommands whose only input is the sale id.
func runSaleByID(name, method, suffix string, args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet(name, stderr)
	opts := registerAPIFlags(fs)
	var id string
	fs.StringVar(&id, "id", "", "0x-prefixed sale id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	normalized, err := validateSaleID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return doAPI(stdout, stderr, opts, method, salePath(normalized, suffix), nil)
}

func runSaleList(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale list", stderr)
	opts := registerAPIFlags(fs)
	var (
		active bool
		seller string
	)
	fs.BoolVar(&active, "active", false, "only sales accepting purchases now")
	fs.StringVar(&seller, "seller", "", "only sales created by this identity")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	if active {
		query.Set("active", "true")
	}
	if seller != "" {
		if _, err := crypto.ParseIdentity(seller); err != nil {
			return printError(stderr, fmt.Sprintf("--seller: %v", err))
		}
		query.Set("seller", seller)
	}
	path := "/v1/sales"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return doAPI(stdout, stderr, opts, http.MethodGet, path, nil)
}

func runSaleBuyer(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale buyer", stderr)
	opts := registerAPIFlags(fs)
	var id, buyer string
	fs.StringVar(&id, "id", "", "0x-prefixed sale id")
	fs.StringVar(&buyer, "buyer", "", "buyer identity")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	normalized, err := validateSaleID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if buyer == "" {
		return printError(stderr, "--buyer is required")
	}
	if _, err := crypto.ParseIdentity(buyer); err != nil {
		return printError(stderr, fmt.Sprintf("--buyer: %v", err))
	}
	return doAPI(stdout, stderr, opts, http.MethodGet, salePath(normalized, "/buyers/"+url.PathEscape(buyer)), nil)
}

func runSaleAmount(name, suffix string, args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet(name, stderr)
	opts := registerAPIFlags(fs)
	var id, amount string
	fs.StringVar(&id, "id", "", "0x-prefixed sale id")
	fs.StringVar(&amount, "amount", "", "token amount (supports 1e6 and 1_000 forms)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	normalized, err := validateSaleID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	value, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return doAPI(stdout, stderr, opts, http.MethodPost, salePath(normalized, suffix), rpc.AmountRequest{Amount: value})
}

func runSaleUpdate(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale update", stderr)
	opts := registerAPIFlags(fs)
	var id, price, start, end, buyerCap string
	fs.StringVar(&id, "id", "", "0x-prefixed sale id")
	fs.StringVar(&price, "price", "", "new payment units per token")
	fs.StringVar(&start, "start", "", "new window start")
	fs.StringVar(&end, "end", "", "new window end")
	fs.StringVar(&buyerCap, "cap", "", "new per-buyer cap, 0 removes the cap")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	normalized, err := validateSaleID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var req rpc.UpdateSaleRequest
	now := cliNow()
	if set["price"] {
		value, err := normalizeAmount("--price", price)
		if err != nil {
			return printError(stderr, err.Error())
		}
		req.PricePerUnit = &value
	}
	if set["start"] {
		ts, err := parseTimestamp("--start", start, now)
		if err != nil {
			return printError(stderr, err.Error())
		}
		req.WindowStart = &ts
	}
	if set["end"] {
		ts, err := parseTimestamp("--end", end, now)
		if err != nil {
			return printError(stderr, err.Error())
		}
		req.WindowEnd = &ts
	}
	if set["cap"] {
		value := strings.TrimSpace(buyerCap)
		if value != "0" {
			if value, err = normalizeAmount("--cap", buyerCap); err != nil {
				return printError(stderr, err.Error())
			}
		}
		req.PerBuyerCap = &value
	}
	if req.PricePerUnit == nil && req.WindowStart == nil && req.WindowEnd == nil && req.PerBuyerCap == nil {
		return printError(stderr, "at least one of --price, --start, --end or --cap is required")
	}
	return doAPI(stdout, stderr, opts, http.MethodPatch, salePath(normalized, ""), req)
}

func runSaleReceipts(args []string, stdout, stderr io.Writer) int {
	fs := newSaleFlagSet("sale receipts", stderr)
	opts := registerAPIFlags(fs)
	var (
		id        string
		eventType string
		after     uint64
		limit     int
	)
	fs.StringVar(&id, "id", "", "0x-prefixed sale id")
	fs.StringVar(&eventType, "type", "", "only receipts of this event type")
	fs.Uint64Var(&after, "after", 0, "only receipts after this sequence")
	fs.IntVar(&limit, "limit", 0, "maximum number of receipts")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	normalized, err := validateSaleID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if limit < 0 {
		return printError(stderr, "--limit must be non-negative")
	}
	query := url.Values{}
	if eventType != "" {
		query.Set("type", eventType)
	}
	if after > 0 {
		query.Set("after", strconv.FormatUint(after, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := salePath(normalized, "/receipts")
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return doAPI(stdout, stderr, opts, http.MethodGet, path, nil)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	opts := registerAPIFlags(fs)
	var address, asset string
	fs.StringVar(&address, "address", "", "account identity")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" {
		return printError(stderr, "--address is required")
	}
	if _, err := crypto.ParseIdentity(address); err != nil {
		return printError(stderr, fmt.Sprintf("--address: %v", err))
	}
	normalized, err := normalizeAssetFlag("--asset", asset)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return doAPI(stdout, stderr, opts, http.MethodGet, "/v1/balances/"+url.PathEscape(address)+"/"+url.PathEscape(normalized), nil)
}

func validateSaleID(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("--id is required")
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return "", fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	cleaned := trimmed[2:]
	if len(cleaned) != 64 {
		return "", fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	if !isHex(cleaned) {
		return "", fmt.Errorf("--id must contain only hexadecimal characters")
	}
	return "0x" + strings.ToLower(cleaned), nil
}

func isHex(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func normalizeAssetFlag(name, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	normalized, err := bank.NormalizeAsset(value)
	if err != nil {
		return "", fmt.Errorf("%s: %v", name, err)
	}
	return normalized, nil
}

// normalizeAmount accepts plain integers, underscores as digit separators and
// a positive decimal exponent such as 5e6. The result must be a positive
// value that fits in 64 bits.
func normalizeAmount(name, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	base := strings.TrimPrefix(trimmed, "+")
	var exponent uint64
	if idx := strings.IndexAny(base, "eE"); idx != -1 {
		expPart := base[idx+1:]
		base = base[:idx]
		exp, err := strconv.ParseUint(expPart, 10, 8)
		if err != nil || exp > 19 {
			return "", fmt.Errorf("invalid exponent in %s", name)
		}
		exponent = exp
	}
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("%s must be positive", name)
	}
	amount, err := uint256.FromDecimal(base)
	if err != nil {
		return "", fmt.Errorf("%s must be an integer", name)
	}
	if exponent > 0 {
		scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(exponent))
		if _, overflow := amount.MulOverflow(amount, scale); overflow {
			return "", fmt.Errorf("%s overflows", name)
		}
	}
	if amount.IsZero() {
		return "", fmt.Errorf("%s must be positive", name)
	}
	if !amount.IsUint64() {
		return "", fmt.Errorf("%s exceeds the maximum token amount", name)
	}
	return amount.Dec(), nil
}

// parseTimestamp accepts unix seconds, an RFC3339 timestamp or a duration
// relative to now prefixed with "+".
func parseTimestamp(name, value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := time.ParseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, fmt.Errorf("invalid %s duration", name)
		}
		if dur <= 0 {
			return 0, fmt.Errorf("%s duration must be positive", name)
		}
		return now.Add(dur).Unix(), nil
	}
	if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if unix < 0 {
			return 0, fmt.Errorf("%s must not be negative", name)
		}
		return unix, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: want unix seconds, RFC3339 or +duration", name)
	}
	return ts.Unix(), nil
}

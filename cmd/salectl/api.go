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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tokensale/rpc/middleware"
)

const defaultEndpoint = "http://127.0.0.1:8088"

type apiOptions struct {
	Endpoint string
	Token    string
	Identity string
}

type apiResponse struct {
	Status int
	Body   []byte
}

var (
	apiClient   = &http.Client{Timeout: 15 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	saleAPICall = callSaleAPI
)

func registerAPIFlags(fs *flag.FlagSet) *apiOptions {
	opts := &apiOptions{}
	endpoint := strings.TrimSpace(os.Getenv("SALE_ENDPOINT"))
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	fs.StringVar(&opts.Endpoint, "endpoint", endpoint, "saled base URL")
	fs.StringVar(&opts.Token, "token", os.Getenv("SALE_TOKEN"), "bearer token for authenticated calls")
	fs.StringVar(&opts.Identity, "as", os.Getenv("SALE_IDENTITY"), "caller identity when the API runs without auth")
	return opts
}

func callSaleAPI(opts apiOptions, method, path string, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	url := strings.TrimRight(opts.Endpoint, "/") + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(opts.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if identity := strings.TrimSpace(opts.Identity); identity != "" {
		req.Header.Set(middleware.IdentityHeader, identity)
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &apiResponse{Status: resp.StatusCode, Body: payload}, nil
}

// printAPIResponse pretty-prints a successful body to stdout or the server's
// error to stderr, returning the process exit code.
func printAPIResponse(stdout, stderr io.Writer, resp *apiResponse) int {
	if resp.Status >= http.StatusMultipleChoices {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if err := json.Unmarshal(resp.Body, &apiErr); err != nil || apiErr.Error == "" {
			fmt.Fprintf(stderr, "Error: HTTP %d: %s\n", resp.Status, strings.TrimSpace(string(resp.Body)))
			return 1
		}
		if apiErr.Kind != "" {
			fmt.Fprintf(stderr, "Error: HTTP %d (%s): %s\n", resp.Status, apiErr.Kind, apiErr.Error)
		} else {
			fmt.Fprintf(stderr, "Error: HTTP %d: %s\n", resp.Status, apiErr.Error)
		}
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Body, "", "  "); err != nil {
		fmt.Fprintln(stdout, strings.TrimSpace(string(resp.Body)))
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}

func doAPI(stdout, stderr io.Writer, opts *apiOptions, method, path string, body any) int {
	resp, err := saleAPICall(*opts, method, path, body)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return printAPIResponse(stdout, stderr, resp)
}

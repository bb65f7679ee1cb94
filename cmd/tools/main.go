package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
)

var (
	host       = flag.String("host", "http://localhost:8080", "walletd api host")
	flatPreset = flag.String("preset", "", "preset to execute")
	amountArg  = flag.String("amount", "", "withdrawal amount for the withdraw preset")
	toArg      = flag.String("to", "", "recipient principal for the withdraw preset")
)

var presets = map[string]func(context.Context) error{
	"login":    login,
	"logout":   logout,
	"status":   status,
	"whoami":   whoami,
	"max":      maxWithdrawable,
	"withdraw": withdraw,
}

func main() {
	flag.Parse()

	if *flatPreset == "" {
		panic("preset is required")
	}
	preset, ok := presets[*flatPreset]
	if !ok {
		panic(fmt.Sprintf("unknown preset: %s", *flatPreset))
	}

	ctx := context.Background()
	err := preset(ctx)
	if err != nil {
		panic(err)
	}
}

func call(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, *host+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make http call: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resBody, "", "  "); err != nil {
		pretty.Write(resBody)
	}
	fmt.Printf("%s\n%s\n", res.Status, pretty.String())
	return nil
}

func login(ctx context.Context) error {
	return call(ctx, http.MethodPost, "/login", nil)
}

func logout(ctx context.Context) error {
	return call(ctx, http.MethodPost, "/logout", nil)
}

func status(ctx context.Context) error {
	return call(ctx, http.MethodGet, "/session", nil)
}

func whoami(ctx context.Context) error {
	return call(ctx, http.MethodGet, "/whoami", nil)
}

func maxWithdrawable(ctx context.Context) error {
	return call(ctx, http.MethodGet, "/max", nil)
}

func withdraw(ctx context.Context) error {
	if *amountArg == "" || *toArg == "" {
		return fmt.Errorf("-amount and -to are required")
	}
	return call(ctx, http.MethodPost, "/withdraw", map[string]string{
		"amount":    *amountArg,
		"recipient": *toArg,
	})
}

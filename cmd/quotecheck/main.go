package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"swap-quote/internal/catalog"
	"swap-quote/internal/config"
	"swap-quote/internal/quote"
	"swap-quote/internal/rpc"
	"swap-quote/internal/signing"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	BaseURL    string        `json:"base_url"`
	Scheme     string        `json:"scheme"`
	Checks     []checkResult `json:"checks"`
}

func main() {
	var (
		configPath  string
		timeoutSec  int
		outJSONPath string
		from        string
		to          string
		amountRaw   string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.IntVar(&timeoutSec, "timeout-sec", 60, "total timeout seconds")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.StringVar(&from, "from", "", "source ticker for the sample quote check")
	flag.StringVar(&to, "to", "", "target ticker for the sample quote check")
	flag.StringVar(&amountRaw, "amount", "", "source amount for the sample quote check")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if timeoutSec < 10 {
		timeoutSec = 10
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	r := report{
		StartedAt: time.Now().UTC(),
		BaseURL:   cfg.Exchange.BaseURL,
		Scheme:    cfg.Exchange.Signing.Scheme,
	}

	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	var cred *signing.Credential
	run("credential_load", func() (string, error) {
		var err error
		cred, err = signing.Load(cfg.SigningOptions())
		if err != nil {
			return "", err
		}
		return cred.String(), nil
	})

	if cred != nil {
		run("signature_self_check", func() (string, error) {
			payload := []byte(fmt.Sprintf(`{"probe":"quotecheck","ts":%d}`, time.Now().Unix()))
			sig, err := cred.Sign(payload)
			if err != nil {
				return "", err
			}
			again, err := cred.Sign(payload)
			if err != nil {
				return "", err
			}
			if sig != again {
				return "", errors.New("signature not deterministic for identical payload")
			}
			if !cred.Verify(payload, sig) {
				return "", errors.New("self verification failed")
			}
			return fmt.Sprintf("header=%s sig_len=%d", cred.SignatureHeader(), len(sig)), nil
		})
	}

	var cat *catalog.Catalog
	if cred != nil {
		client := rpc.NewClient(cred, rpc.Options{
			BaseURL: cfg.Exchange.BaseURL,
			Timeout: cfg.HTTPTimeout(),
		})
		cat = catalog.New(client, catalog.Options{TTL: cfg.CatalogTTL()})

		run("catalog_fetch", func() (string, error) {
			if err := cat.Refresh(ctx); err != nil {
				return "", err
			}
			total := len(cat.Currencies())
			enabled := len(cat.Enabled())
			return fmt.Sprintf("currencies=%d enabled=%d refreshed_at=%s", total, enabled, cat.RefreshedAt().Format(time.RFC3339)), nil
		})

		if from != "" && to != "" && amountRaw != "" {
			run("sample_quote", func() (string, error) {
				amount, err := decimal.NewFromString(amountRaw)
				if err != nil {
					return "", fmt.Errorf("invalid -amount: %w", err)
				}
				engine := quote.NewEngine(cat, client, quote.EngineOptions{QuoteTTL: cfg.QuoteTTL()})
				q, err := engine.Quote(ctx, from, to, amount)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s %s -> %s %s valid_until=%s",
					q.FromAmount.String(), q.From, q.ToAmount.String(), q.To,
					q.ValidUntil.Format(time.RFC3339)), nil
			})
		}
	}

	r.FinishedAt = time.Now().UTC()
	printSummary(r)

	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("report written: %s\n", outJSONPath)
	}

	for _, c := range r.Checks {
		if c.Status == statusFail {
			os.Exit(1)
		}
	}
}

func printSummary(r report) {
	pass := 0
	fail := 0
	for _, c := range r.Checks {
		if c.Status == statusPass {
			pass++
		} else {
			fail++
		}
	}
	fmt.Printf("\nsummary base_url=%s scheme=%s pass=%d fail=%d duration=%s\n",
		r.BaseURL,
		r.Scheme,
		pass,
		fail,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/email-batch-validator/pkg/mockvalidator"
)

func main() {
	addr := defaultString("MOCK_VALIDATOR_ADDR", ":8080")
	token := defaultString("MOCK_VALIDATOR_TOKEN", "")
	workers := defaultInt("MOCK_VALIDATOR_WORKERS", 4)
	delay := defaultDuration("MOCK_VALIDATOR_RESULT_DELAY", 0)
	dropAfter := defaultInt("MOCK_VALIDATOR_DROP_AFTER", 0)
	malformedEvery := defaultInt("MOCK_VALIDATOR_MALFORMED_EVERY", 0)
	quotaLimit := defaultInt("MOCK_VALIDATOR_QUOTA_LIMIT", 10000)

	fs := flag.NewFlagSet("mock-validator", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&token, "token", token, "Bearer token required on authenticated/admin endpoints; empty accepts any (env: MOCK_VALIDATOR_TOKEN)")
	fs.IntVar(&workers, "workers", workers, "Validation pool size")
	fs.DurationVar(&delay, "result-delay", delay, "Delay before each verdict")
	fs.IntVar(&dropAfter, "drop-after", dropAfter, "Abort streams after N results, 0 disables")
	fs.IntVar(&malformedEvery, "malformed-every", malformedEvery, "Inject an undecodable line after every N results, 0 disables")
	fs.IntVar(&quotaLimit, "quota-limit", quotaLimit, "API call limit reported to authenticated callers")
	_ = fs.Parse(os.Args[1:])

	srv := mockvalidator.New(nil)
	if token != "" {
		srv.RequireBearerToken(token)
	}
	srv.SetBehavior(mockvalidator.Behavior{
		Workers:        workers,
		ResultDelay:    delay,
		DropAfter:      dropAfter,
		MalformedEvery: malformedEvery,
	})
	q := srv.Quota()
	q.Limit = quotaLimit
	srv.SetQuota(q)

	_, _ = fmt.Fprintf(os.Stdout, "mock-validator listening on %s (workers=%d delay=%s drop-after=%d)\n", addr, workers, delay, dropAfter)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(envVar string, fallback int) int {
	n, err := strconv.Atoi(defaultString(envVar, ""))
	if err != nil {
		return fallback
	}
	return n
}

func defaultDuration(envVar string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(defaultString(envVar, ""))
	if err != nil {
		return fallback
	}
	return d
}

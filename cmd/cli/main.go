// Command cli is a thin HTTP client over cmd/server's REST surface,
// implementing the contract the original's cli.py argparse surface
// exposed: submit, status, inspect, cancel. Exit code 0 on success, 1
// on a usage error, 2 on a request/server-side failure.
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
)

const usage = `usage: cli <command> [flags]

commands:
  submit   --name NAME [--payload JSON] [--priority N] [--delay MS]
           [--cron EXPR] [--depends-on ID,ID,...] [--unique-key KEY]
  status   <job-id>
  inspect  <job-id>
  cancel   <job-id>
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	baseURL := os.Getenv("TASKQUEUE_SERVER")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	switch args[0] {
	case "submit":
		return cmdSubmit(baseURL, args[1:])
	case "status", "inspect":
		return cmdInspect(baseURL, args[1:])
	case "cancel":
		return cmdCancel(baseURL, args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
}

func cmdSubmit(baseURL string, args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	name := fs.String("name", "", "handler name (required)")
	payload := fs.String("payload", "{}", "JSON payload")
	priority := fs.Int("priority", 2, "priority 0=CRITICAL .. 4=BATCH")
	delay := fs.Int64("delay", 0, "delay in milliseconds")
	cronExpr := fs.String("cron", "", "cron expression")
	dependsOn := fs.String("depends-on", "", "comma-separated job ids")
	uniqueKey := fs.String("unique-key", "", "uniqueness key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *name == "" {
		fmt.Fprintln(os.Stderr, "submit: --name is required")
		return 1
	}

	var depends []string
	if *dependsOn != "" {
		depends = strings.Split(*dependsOn, ",")
	}

	body := map[string]any{
		"name":            *name,
		"payload":         []byte(*payload),
		"priority":        *priority,
		"delay_ms":        *delay,
		"cron_expression": *cronExpr,
		"depends_on":      depends,
		"unique_key":      *uniqueKey,
	}

	return doRequest(http.MethodPost, baseURL+"/api/v1/jobs", body)
}

func cmdInspect(baseURL string, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: cli status|inspect <job-id>")
		return 1
	}
	return doRequest(http.MethodGet, baseURL+"/api/v1/jobs/"+args[0], nil)
}

func cmdCancel(baseURL string, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: cli cancel <job-id>")
		return 1
	}
	return doRequest(http.MethodDelete, baseURL+"/api/v1/jobs/"+args[0], nil)
}

func doRequest(method, url string, body any) int {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode request:", err)
			return 1
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build request:", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", err)
		return 2
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read response:", err)
		return 2
	}

	fmt.Println(string(out))
	if resp.StatusCode >= 400 {
		return 2
	}
	return 0
}

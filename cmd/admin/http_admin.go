package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func relayCmd(args []string) {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "relay base url")
	_ = fs.Parse(args)

	q := "health"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	var path string
	switch q {
	case "health":
		path = "/healthz"
	case "metrics":
		path = "/metrics"
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin relay [-url http://127.0.0.1:8080] health|metrics")
		os.Exit(2)
	}

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + path
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

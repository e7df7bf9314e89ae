// Command replay prints a peer's trade journal. Its main job is manual
// recovery: -stranded lists delivery-unconfirmed trades together with
// the full execute payload that never got acknowledged.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"wildlink.gg/internal/persistence/journal"
	"wildlink.gg/internal/trade"
)

func main() {
	var (
		dir      = flag.String("dir", "", "journal directory containing trades-*.jsonl.zst")
		file     = flag.String("file", "", "single journal file (overrides -dir)")
		session  = flag.String("session", "", "only entries for this session id")
		event    = flag.String("event", "", "only entries with this event name")
		stranded = flag.Bool("stranded", false, "only delivery-unconfirmed entries, with payloads")
	)
	flag.Parse()

	var files []string
	switch {
	case *file != "":
		files = []string{*file}
	case *dir != "":
		var err error
		files, err = listJournalFiles(*dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list journal:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "no journal files found in", *dir)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "missing -dir or -file")
		os.Exit(2)
	}

	var total, strandedN int
	for _, path := range files {
		entries, err := journal.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
		for _, e := range entries {
			if *session != "" && e.SessionID != *session {
				continue
			}
			if *event != "" && e.Event != *event {
				continue
			}
			if *stranded && e.Event != "DELIVERY_UNCONFIRMED" {
				continue
			}
			total++
			if e.Event == "DELIVERY_UNCONFIRMED" {
				strandedN++
			}
			printEntry(e, *stranded)
		}
	}

	fmt.Printf("%d entries", total)
	if strandedN > 0 {
		fmt.Printf(", %d stranded", strandedN)
	}
	fmt.Println()
}

func listJournalFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "trades-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func printEntry(e trade.JournalEntry, withDetail bool) {
	ts := time.UnixMilli(e.TS).UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s %s %-22s", ts, e.Peer, e.Event)
	if e.SessionID != "" {
		line += " session=" + e.SessionID
	}
	if e.Partner != "" {
		line += " partner=" + e.Partner
	}
	fmt.Println(line)
	if withDetail && len(e.Detail) > 0 {
		b, err := json.MarshalIndent(e.Detail, "  ", "  ")
		if err == nil {
			fmt.Printf("  %s\n", b)
		}
	}
}

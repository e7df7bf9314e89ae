// Command admin inspects wildlink runtime state from the outside: the
// sqlite trade history of a peer and the health/metrics endpoints of a
// running relay.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "relay":
			relayCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin db|relay [flags]")
	fmt.Fprintln(os.Stderr, "  admin db -peer NAME [-data-dir ./data] [-limit 20] recent|stats")
	fmt.Fprintln(os.Stderr, "  admin relay [-url http://127.0.0.1:8080] health|metrics")
	os.Exit(2)
}

// Command inspect dumps a session's stored messages for debugging.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"parley/pkg/logger"
	"parley/pkg/store"
)

func main() {
	var dbPath, sessionID string
	var limit int
	flag.StringVar(&dbPath, "db", "./.database", "pebble DB path")
	flag.StringVar(&sessionID, "session", "", "session id to dump")
	flag.IntVar(&limit, "limit", 0, "max messages (0 = all)")
	flag.Parse()
	if sessionID == "" {
		fmt.Fprintln(os.Stderr, "--session required")
		os.Exit(2)
	}
	logger.Init()

	if err := store.Open(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sess, err := store.GetSession(sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session load failed: %v\n", err)
		os.Exit(1)
	}
	meta, _ := json.MarshalIndent(sess, "", "  ")
	fmt.Printf("session: %s\n", meta)

	msgs, err := store.ListMessages(sessionID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "message list failed: %v\n", err)
		os.Exit(1)
	}
	for _, m := range msgs {
		fmt.Printf("%6d %-9s %s\n", m.Order, m.Role, m.Content)
	}
	fmt.Printf("%d message(s)\n", len(msgs))
}

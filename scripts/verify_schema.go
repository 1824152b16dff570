package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// verify_schema checks a relay database for the expected tables and columns.
//
// Usage:
//   go run ./scripts/verify_schema.go [path/to/relay.db]

func main() {
	dbPath := "./data/relay.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	tables := []string{"trade_groups", "trade_group_members", "users", "activity_log", "send_failures"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err == sql.ErrNoRows {
			fmt.Printf("MISSING table %s\n", table)
			continue
		}
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("ok    table %s\n", table)
	}

	var memberSchema string
	if err := db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='trade_group_members'").Scan(&memberSchema); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for _, col := range []string{"slave_settings", "status"} {
		if strings.Contains(memberSchema, col) {
			fmt.Printf("ok    column trade_group_members.%s\n", col)
		} else {
			fmt.Printf("MISSING column trade_group_members.%s\n", col)
		}
	}
	if strings.Contains(memberSchema, "ON DELETE CASCADE") {
		fmt.Println("ok    member cascade on group delete")
	} else {
		fmt.Println("MISSING member cascade on group delete")
	}
}

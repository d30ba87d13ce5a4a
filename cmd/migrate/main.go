package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"whatsrelay/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./data/whatsrelay.db", "Path to the database file")
	status := flag.Bool("status", false, "Only list applied and pending migrations")
	flag.Parse()

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("Database file not found: %s", *dbPath)
	}

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if *status {
		if err := printStatus(db); err != nil {
			log.Fatalf("Failed to read migration status: %v", err)
		}
		return
	}

	applied, err := migrations.Apply(context.Background(), db)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if len(applied) == 0 {
		fmt.Println("Database schema is up to date")
		return
	}
	for _, v := range applied {
		fmt.Printf("Applied migration %03d\n", v)
	}
	fmt.Println("Database schema updated. You can now restart WhatsRelay.")
}

func printStatus(db *sql.DB) error {
	all, err := migrations.All()
	if err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				return err
			}
			applied[v] = true
		}
		if err := rows.Err(); err != nil {
			return err
		}
	}

	for _, m := range all {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Printf("%-40s %s\n", m.Name, state)
	}
	return nil
}

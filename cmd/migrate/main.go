package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"wadispatch/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./wadispatch.db", "Path to the database file")
	dir := flag.String("dir", "", "Load migrations from this directory instead of the built-in set")
	list := flag.Bool("list", false, "List known migrations and exit")
	flag.Parse()

	if *dir != "" {
		migrations.MigrationsDir = *dir
	}

	if *list {
		all, err := migrations.Load()
		if err != nil {
			log.Fatalf("Failed to load migrations: %v", err)
		}
		for _, m := range all {
			fmt.Printf("%03d  %s\n", m.Version, m.Name)
		}
		return
	}

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		fmt.Printf("Database file not found, creating %s\n", *dbPath)
	}

	db, err := sql.Open("sqlite3", *dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if len(applied) == 0 {
		fmt.Println("Schema is up to date, nothing to apply")
		return
	}
	for _, v := range applied {
		fmt.Printf("Applied migration %03d\n", v)
	}
	fmt.Println("Database schema updated. You can now restart wadispatch.")
}

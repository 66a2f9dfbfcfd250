package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/classcomm/classcomm/internal/api"
	"github.com/classcomm/classcomm/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create-user":
		runAdminCreateUser(args[1:])
	case "create-key":
		runAdminCreateKey(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: classcomm-sync admin <command> [flags]

Commands:
  create-user  Register a user account
  create-key   Create an API key for a user`)
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg := api.LoadConfig()
		dbPath = cfg.DBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runAdminCreateUser(args []string) {
	fs := flag.NewFlagSet("admin create-user", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	dbPath := fs.String("db", "", "path to classcomm.db (default: from CLASSCOMM_DB_PATH or ./data/classcomm.db)")
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: --email is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.CreateUser(*email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created user %s (%s)\n", user.ID, user.Email)
}

func runAdminCreateKey(args []string) {
	fs := flag.NewFlagSet("admin create-key", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	name := fs.String("name", "cli", "key name")
	dbPath := fs.String("db", "", "path to classcomm.db (default: from CLASSCOMM_DB_PATH or ./data/classcomm.db)")
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: --email is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.GetUserByEmail(*email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if user == nil {
		fmt.Fprintf(os.Stderr, "error: user not found: %s\n", *email)
		os.Exit(1)
	}

	plaintext, key, err := store.GenerateAPIKey(user.ID, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created key %s for %s\n", key.ID, user.Email)
	fmt.Printf("api key (shown once): %s\n", plaintext)
}

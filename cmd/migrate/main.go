package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/stats"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" {
		printUsage()
		return
	}

	// only the database section matters here, so the full Validate is skipped
	cfg := config.FromEnv()

	migrator, err := stats.NewMigrator(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch command {
	case "up":
		run("Running migrations", migrator.Up)
	case "down":
		run("Rolling back migrations", migrator.Down)
	case "steps":
		n := intArg(os.Args[2:], "steps")
		run(fmt.Sprintf("Running %d migration steps", n), func() error { return migrator.Steps(n) })
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		fmt.Printf("Current migration version: %d\n", version)
		if dirty {
			fmt.Println("WARNING: Database is in a dirty state")
		}
	case "force":
		v := intArg(os.Args[2:], "force")
		run(fmt.Sprintf("Forcing migration version to %d", v), func() error { return migrator.Force(v) })
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func run(what string, fn func() error) {
	fmt.Println(what + "...")
	if err := fn(); err != nil {
		log.Fatalf("%s failed: %v", what, err)
	}
	fmt.Println("Done")
}

func intArg(args []string, command string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "%s requires a number argument\n", command)
		os.Exit(1)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid %s argument: %s\n", command, args[0])
		os.Exit(1)
	}
	return n
}

func printUsage() {
	fmt.Println("Statistics database migration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up           Run all available migrations")
	fmt.Println("  down         Rollback all migrations")
	fmt.Println("  steps <n>    Run n migrations up (positive) or down (negative)")
	fmt.Println("  version      Show current migration version")
	fmt.Println("  force <v>    Force set migration version without running migrations")
	fmt.Println("  help         Show this help message")
}

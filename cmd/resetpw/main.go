package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"media-share/internal/database"
	"media-share/internal/startup"

	"golang.org/x/term"
)

const (
	// Default timeout for database operations
	defaultTimeout = 30 * time.Second
	// Default database directory path
	defaultDatabaseDir = "/data/database"
	catalogFile        = "media-share.db"

	minPasswordLength = 6
	maxPasswordLength = 72
)

// readPassword reads a line from the terminal without echo.
var readPassword = func(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	return pw, err
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	code := run(ctx, os.Args[1:], os.Getenv("DATABASE_DIR"))
	cancel()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, databaseDir string) int {
	if databaseDir == "" {
		databaseDir = defaultDatabaseDir
	}

	db, err := database.New(ctx, catalogPath(databaseDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATABASE_DIR is set correctly (current: %s)\n", databaseDir)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	ok := false
	switch args[0] {
	case "reset":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: reset needs a username")
			printUsage()
			return 1
		}
		ok = resetPassword(ctx, db, args[1])
	case "status":
		ok = showStatus(ctx, db, os.Stdout)
	default:
		sanitized := sanitizeCommand(args[0])
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", sanitized) //nolint:gosec // G705 - only [a-zA-Z0-9_-] pass sanitizeCommand
		printUsage()
	}

	if !ok {
		return 1
	}
	return 0
}

func catalogPath(databaseDir string) string {
	return filepath.Join(databaseDir, catalogFile)
}

// sanitizeCommand returns a safe representation of a command string for display.
// It uses an allowlist approach, replacing any character that is not alphanumeric,
// a hyphen, or an underscore with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage() {
	fmt.Println("Media Share Account Management")
	fmt.Println("")
	fmt.Println("Usage: resetpw <command> [username]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  reset <username>  - Set a new password and end the user's sessions")
	fmt.Println("  status            - List accounts and whether signups are locked")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Printf("  DATABASE_DIR - Path to database directory (default: %s)\n", defaultDatabaseDir)
}

// checkNewPassword validates a password typed twice.
func checkNewPassword(password, confirm []byte) error {
	if !bytes.Equal(password, confirm) {
		return errors.New("passwords do not match")
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordLength)
	}
	return nil
}

func resetPassword(ctx context.Context, db *database.Database, username string) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := db.GetUser(ctx, username); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: No account named %q\n", username)
		} else {
			fmt.Fprintf(os.Stderr, "Error: Failed to look up %q: %v\n", username, err)
		}
		return false
	}

	password, err := readPassword("New Password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		return false
	}
	confirm, err := readPassword("Confirm Password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		return false
	}

	if err := checkNewPassword(password, confirm); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	if err := db.SetPassword(ctx, username, string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to update password: %v\n", err)
		return false
	}

	fmt.Printf("Password for %s updated successfully.\n", username)
	fmt.Println("All of their existing sessions have been invalidated.")
	return true
}

func showStatus(ctx context.Context, db *database.Database, out io.Writer) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	users, err := db.ListUsers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list users: %v\n", err)
		return false
	}

	locked := "no"
	if raw, ok, err := db.GetSetting(ctx, startup.SettingSignupLocked); err == nil && ok && raw == "true" {
		locked = "yes"
	}

	if len(users) == 0 {
		fmt.Fprintln(out, "Status: No accounts yet (the first signup becomes admin)")
		return true
	}

	fmt.Fprintf(out, "Status: %d account(s), signups locked: %s\n\n", len(users), locked)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tROLE\tCREATED")
	for _, u := range users {
		role := "user"
		if u.IsAdmin {
			role = "admin"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Username, role, u.CreatedAt.Format(time.DateOnly))
	}
	return tw.Flush() == nil
}

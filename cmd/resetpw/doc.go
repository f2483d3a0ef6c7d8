// Command resetpw manages media-share accounts from the server's shell.
//
// Usage:
//
//	resetpw <command> [username]
//
// Commands:
//
//	reset <username>  Prompt twice for a new password and store it. All of
//	                  the user's sessions are ended.
//
//	status            List accounts with their role, and report whether
//	                  signups are locked.
//
// Environment:
//
//	DATABASE_DIR - Path to database directory (default: /data/database)
//
// Accounts are created through the web interface; the first signup becomes
// the administrator. This utility only changes passwords of existing
// accounts, for when a user is locked out.
package main

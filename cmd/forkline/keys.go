package main

import (
	"fmt"
	"sort"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/forkline/internal/vault"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fatalf("Usage: forkline keys <list|set|delete> [user]")
	}

	v := vault.New()

	switch args[0] {
	case "list":
		cfg, _ := loadConfig(args[1:])
		users := make([]string, 0, len(cfg.Auth.Users))
		for u := range cfg.Auth.Users {
			users = append(users, u)
		}
		sort.Strings(users)

		stored := v.List(users)
		if len(stored) == 0 {
			fmt.Println("No passwords stored for configured users")
			return
		}
		for _, u := range stored {
			fmt.Printf("  %s: ****\n", u)
		}

	case "set":
		if len(args) < 2 {
			fatalf("Usage: forkline keys set <user>")
		}
		user := args[1]
		fmt.Printf("Enter password for %s: ", user)
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fatalf("error reading password: %v", err)
		}
		if len(password) == 0 {
			fatalf("error: empty password")
		}
		if err := v.Set(user, string(password)); err != nil {
			fatalf("error storing password: %v", err)
		}
		fmt.Printf("Password for %s stored; reference it as %q\n", user, vault.DefaultKeyRef(user))

	case "delete":
		if len(args) < 2 {
			fatalf("Usage: forkline keys delete <user>")
		}
		if err := v.Delete(args[1]); err != nil {
			fatalf("error deleting password: %v", err)
		}
		fmt.Printf("Password for %s deleted\n", args[1])

	default:
		fatalf("unknown keys command: %s", args[0])
	}
}

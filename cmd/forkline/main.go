package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/forkline/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "routes":
		cmdRoutes(os.Args[2:])
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "config-import":
		cmdConfigImport(os.Args[2:])
	case "install-service":
		cmdInstallService(os.Args[2:])
	case "uninstall-service":
		cmdUninstallService()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: forkline <command> [options]

Commands:
  start              Start serving requests
  stop               Stop the running process
  status             Show process status and summary stats
  routes             List the configured routes in match order
  keys               Manage basic-auth passwords (list|set|delete <user>)
  init-config        Generate the default config file
  config-export      Export the current config to a TOML file
  config-import      Validate and import a config from a TOML file
  install-service    Install as a user service (launchd or systemd)
  uninstall-service  Remove the user service
  version            Print version information
  help               Show this help message

Options:
  --config <file>    Use this config file instead of searching for one
  --foreground, -f   Run in the foreground (with 'start')`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/allaspectsdev/forkline/internal/app"
	"github.com/allaspectsdev/forkline/internal/config"
)

// options holds the flags shared by several commands.
type options struct {
	configPath string
	foreground bool
	rest       []string
}

func parseOptions(args []string) (options, error) {
	var opts options
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "--foreground" || a == "-f":
			opts.foreground = true
		case a == "--config" || a == "-c":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("%s requires a file argument", a)
			}
			i++
			opts.configPath = args[i]
		case strings.HasPrefix(a, "--config="):
			opts.configPath = strings.TrimPrefix(a, "--config=")
		default:
			opts.rest = append(opts.rest, a)
		}
	}
	return opts, nil
}

func loadConfig(args []string) (*config.Config, options) {
	opts, err := parseOptions(args)
	if err != nil {
		fatalf("error: %v", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fatalf("error loading config: %v", err)
	}
	return cfg, opts
}

func cmdStart(args []string) {
	cfg, opts := loadConfig(args)
	if err := app.Run(cfg, opts.foreground); err != nil {
		fatalf("error: %v", err)
	}
}

func cmdStop(args []string) {
	loadConfig(args)
	if err := app.Stop(); err != nil {
		fatalf("error stopping forkline: %v", err)
	}
	fmt.Println("forkline stopped")
}

func cmdStatus(args []string) {
	loadConfig(args)
	if err := app.Status(os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

func cmdRoutes(args []string) {
	cfg, _ := loadConfig(args)
	if len(cfg.Routes) == 0 {
		fmt.Println("No routes configured; every request gets the default response")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPREFIX\tMETHODS\tAUTH\tTERMINAL")
	for _, r := range cfg.Routes {
		methods := "*"
		if len(r.Methods) > 0 {
			methods = strings.Join(r.Methods, ",")
		}
		auth := r.Auth
		if auth == "" {
			auth = "-"
		}
		terminal := "no"
		switch {
		case r.Echo:
			terminal = "echo"
		case r.Response != nil:
			terminal = fmt.Sprintf("%d", r.Response.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Label(), r.Prefix, methods, auth, terminal)
	}
	tw.Flush()
}

func cmdInitConfig() {
	path, err := config.InitConfig()
	if err != nil {
		fatalf("error generating config: %v", err)
	}
	fmt.Printf("Config written to %s\n", path)
}

func cmdConfigExport(args []string) {
	_, opts := loadConfig(args)
	path := "forkline-export.toml"
	if len(opts.rest) > 0 {
		path = opts.rest[0]
	}
	if err := config.ExportConfig(path); err != nil {
		fatalf("error exporting config: %v", err)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fatalf("usage: forkline config-import <file>")
	}
	if err := config.ImportConfig(args[0]); err != nil {
		fatalf("error importing config: %v", err)
	}
	fmt.Printf("Config imported from %s\n", args[0])
}

func cmdInstallService(args []string) {
	cfg, opts := loadConfig(args)
	configPath := opts.configPath
	if configPath == "" {
		configPath = config.ConfigFilePath()
	}
	if err := app.InstallService(cfg.Server.DataDir, configPath); err != nil {
		fatalf("error installing service: %v", err)
	}
	fmt.Println("Service installed successfully")
}

func cmdUninstallService() {
	if err := app.UninstallService(); err != nil {
		fatalf("error removing service: %v", err)
	}
}

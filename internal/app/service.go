package app

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

const (
	launchdLabel = "dev.allaspects.forkline"
	systemdUnit  = "forkline.service"
)

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ProgramPath}}</string>
        <string>start</string>
        <string>--foreground</string>{{if .ConfigPath}}
        <string>--config</string>
        <string>{{.ConfigPath}}</string>{{end}}
    </array>

    <key>WorkingDirectory</key>
    <string>{{.DataDir}}</string>

    <key>KeepAlive</key>
    <true/>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.DataDir}}/forkline.out.log</string>

    <key>StandardErrorPath</key>
    <string>{{.DataDir}}/forkline.err.log</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>5</integer>
</dict>
</plist>
`

const systemdUnitTemplate = `[Unit]
Description=forkline request pipeline
After=network-online.target

[Service]
Type=simple
ExecStart={{.ProgramPath}} start --foreground{{if .ConfigPath}} --config {{.ConfigPath}}{{end}}
WorkingDirectory={{.DataDir}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// serviceSpec is the data rendered into a service definition.
type serviceSpec struct {
	Label       string
	ProgramPath string
	ConfigPath  string
	DataDir     string
}

// renderService writes the service definition for goos to w.
func renderService(w io.Writer, goos string, spec serviceSpec) error {
	var text string
	switch goos {
	case "darwin":
		text = launchdPlistTemplate
	case "linux":
		text = systemdUnitTemplate
	default:
		return fmt.Errorf("service install is not supported on %s", goos)
	}

	tmpl, err := template.New(goos).Parse(text)
	if err != nil {
		return fmt.Errorf("parsing service template: %w", err)
	}
	return tmpl.Execute(w, spec)
}

// servicePath returns where the service definition for goos is installed.
func servicePath(home, goos string) string {
	if goos == "darwin" {
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
	}
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit)
}

// InstallService installs forkline as a per-user background service: a
// launchd agent on macOS, a systemd user unit on Linux.
func InstallService(dataDir, configPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("determining executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := servicePath(home, runtime.GOOS)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating service file %s: %w", path, err)
	}
	defer f.Close()

	spec := serviceSpec{
		Label:       launchdLabel,
		ProgramPath: execPath,
		ConfigPath:  configPath,
		DataDir:     dataDir,
	}
	if err := renderService(f, runtime.GOOS, spec); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing service file: %w", err)
	}

	fmt.Printf("Service definition written to %s\n", path)

	if runtime.GOOS == "darwin" {
		_ = exec.Command("launchctl", "unload", path).Run()
		return runCommand("launchctl", "load", path)
	}
	if err := runCommand("systemctl", "--user", "daemon-reload"); err != nil {
		return err
	}
	return runCommand("systemctl", "--user", "enable", "--now", systemdUnit)
}

// UninstallService stops and removes the service installed by InstallService.
func UninstallService() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	path := servicePath(home, runtime.GOOS)
	switch runtime.GOOS {
	case "darwin":
		_ = exec.Command("launchctl", "unload", path).Run()
	case "linux":
		_ = exec.Command("systemctl", "--user", "disable", "--now", systemdUnit).Run()
	default:
		return fmt.Errorf("service uninstall is not supported on %s", runtime.GOOS)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing service file: %w", err)
	}

	fmt.Printf("Service removed from %s\n", path)
	return nil
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

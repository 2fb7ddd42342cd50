package autostart

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const unitName = "dirmirror.service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=dirmirror real-time directory mirror
After=local-fs.target

[Service]
ExecStart="{{.ExecPath}}" watch
ExecStop="{{.ExecPath}}" stop
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))

// LinuxAutoStarter installs a systemd user unit. UnitDir overrides
// ~/.config/systemd/user and Systemctl replaces the systemctl invocation;
// both exist for tests.
type LinuxAutoStarter struct {
	UnitDir   string
	Systemctl func(args ...string) error
}

func (l *LinuxAutoStarter) unitPath() (string, error) {
	dir := l.UnitDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config", "systemd", "user")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(dir, unitName), nil
}

func (l *LinuxAutoStarter) systemctl(args ...string) error {
	if l.Systemctl != nil {
		return l.Systemctl(args...)
	}

	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to run systemctl %v: %w\n%s", args, err, out)
	}
	return nil
}

func writeUnit(w io.Writer, execPath string) error {
	return unitTemplate.Execute(w, map[string]string{"ExecPath": execPath})
}

func (l *LinuxAutoStarter) Install(execPath string) error {
	path, err := l.unitPath()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create unit file: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err := writeUnit(f, execPath); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", unitName},
		{"start", unitName},
	} {
		if err := l.systemctl(args...); err != nil {
			return err
		}
	}

	return nil
}

func (l *LinuxAutoStarter) Uninstall() error {
	_ = l.systemctl("stop", unitName)
	_ = l.systemctl("disable", unitName)

	path, err := l.unitPath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return l.systemctl("daemon-reload")
}

func (l *LinuxAutoStarter) IsInstalled() (bool, error) {
	path, err := l.unitPath()
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	return err == nil, nil
}

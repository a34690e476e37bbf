package proxy

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
)

// CommandRunner executes a platform command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// command is one invocation of a platform tool.
type command struct {
	name string
	args []string
}

// SystemFacility configures the operating system proxy with its native tools.
type SystemFacility struct {
	platform string
	service  string
	run      CommandRunner
}

// NewSystemFacility creates a facility for the running platform.
// service names the macOS network service; run defaults to os/exec.
func NewSystemFacility(service string, run CommandRunner) (*SystemFacility, error) {
	return newSystemFacility(shared.Platform(), service, run)
}

func newSystemFacility(platform, service string, run CommandRunner) (*SystemFacility, error) {
	switch platform {
	case "linux", "darwin", "windows":
	default:
		return nil, fmt.Errorf("%w: %s", shared.ErrUnsupportedOS, platform)
	}
	if service == "" {
		service = "Wi-Fi"
	}
	if run == nil {
		run = execRunner
	}
	return &SystemFacility{platform: platform, service: service, run: run}, nil
}

// Set applies cfg. Direct mode is the same as clearing.
func (s *SystemFacility) Set(ctx context.Context, cfg models.ProxyConfiguration) error {
	if cfg.Mode == models.ModeDirect {
		return s.Clear(ctx)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.runAll(ctx, s.setCommands(cfg))
}

// Clear turns the system proxy off.
func (s *SystemFacility) Clear(ctx context.Context) error {
	return s.runAll(ctx, s.clearCommands())
}

func (s *SystemFacility) runAll(ctx context.Context, cmds []command) error {
	for _, c := range cmds {
		if err := s.run(ctx, c.name, c.args...); err != nil {
			return err
		}
	}
	return nil
}

// bypassHosts expands the "<local>" marker into concrete host patterns.
func bypassHosts(list []string) []string {
	var out []string
	for _, h := range list {
		if h == "<local>" {
			out = append(out, "localhost", "127.0.0.1", "::1", "*.local")
			continue
		}
		out = append(out, h)
	}
	return out
}

func (s *SystemFacility) setCommands(cfg models.ProxyConfiguration) []command {
	port := strconv.Itoa(cfg.Port)
	bypass := bypassHosts(cfg.BypassList)

	switch s.platform {
	case "linux":
		quoted := make([]string, len(bypass))
		for i, h := range bypass {
			quoted[i] = "'" + h + "'"
		}
		gs := func(args ...string) command { return command{"gsettings", append([]string{"set"}, args...)} }
		return []command{
			gs("org.gnome.system.proxy.https", "host", cfg.Host),
			gs("org.gnome.system.proxy.https", "port", port),
			gs("org.gnome.system.proxy.http", "host", cfg.Host),
			gs("org.gnome.system.proxy.http", "port", port),
			gs("org.gnome.system.proxy.http", "authentication-user", cfg.Credentials.Username),
			gs("org.gnome.system.proxy.http", "authentication-password", cfg.Credentials.Password),
			gs("org.gnome.system.proxy.http", "use-authentication", strconv.FormatBool(!cfg.Credentials.IsZero())),
			gs("org.gnome.system.proxy", "ignore-hosts", "["+strings.Join(quoted, ", ")+"]"),
			gs("org.gnome.system.proxy", "mode", "manual"),
		}
	case "darwin":
		auth := []string{"off"}
		if !cfg.Credentials.IsZero() {
			auth = []string{"on", cfg.Credentials.Username, cfg.Credentials.Password}
		}
		ns := func(args ...string) command { return command{"networksetup", args} }
		return []command{
			ns(append([]string{"-setsecurewebproxy", s.service, cfg.Host, port}, auth...)...),
			ns(append([]string{"-setwebproxy", s.service, cfg.Host, port}, auth...)...),
			ns(append([]string{"-setproxybypassdomains", s.service}, bypass...)...),
		}
	case "windows":
		return []command{{"netsh", []string{
			"winhttp", "set", "proxy",
			"proxy-server=" + cfg.Addr(),
			"bypass-list=" + strings.Join(cfg.BypassList, ";"),
		}}}
	}
	return nil
}

func (s *SystemFacility) clearCommands() []command {
	switch s.platform {
	case "linux":
		return []command{{"gsettings", []string{"set", "org.gnome.system.proxy", "mode", "none"}}}
	case "darwin":
		return []command{
			{"networksetup", []string{"-setsecurewebproxystate", s.service, "off"}},
			{"networksetup", []string{"-setwebproxystate", s.service, "off"}},
		}
	case "windows":
		return []command{{"netsh", []string{"winhttp", "reset", "proxy"}}}
	}
	return nil
}

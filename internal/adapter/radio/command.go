package radio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"

	"gpio-node/internal/domain"
)

// Commands holds the command line templates for each radio operation.
// Templates may reference {ssid}, {passphrase} and {iface}.
type Commands struct {
	Connect    string `yaml:"connect"`
	Check      string `yaml:"check"`
	Disconnect string `yaml:"disconnect"`
	StartAP    string `yaml:"start_ap"`
	StopAP     string `yaml:"stop_ap"`
}

// DefaultCommands drives NetworkManager through nmcli.
func DefaultCommands() Commands {
	return Commands{
		Connect:    "nmcli device wifi connect {ssid} password {passphrase}",
		Check:      "nmcli -t -f STATE general",
		Disconnect: "nmcli device disconnect {iface}",
		StartAP:    "nmcli device wifi hotspot ifname {iface} ssid {ssid} password {passphrase}",
		StopAP:     "nmcli connection down Hotspot",
	}
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandRadio drives the radio by shelling out to a network manager CLI.
type CommandRadio struct {
	cmds  Commands
	iface string
	run   Runner
}

// NewCommand returns a command radio. A nil runner selects ExecRunner.
func NewCommand(cmds Commands, iface string, run Runner) *CommandRadio {
	if run == nil {
		run = ExecRunner
	}
	return &CommandRadio{cmds: cmds, iface: iface, run: run}
}

func (r *CommandRadio) ConnectStation(ctx context.Context, ssid, passphrase string) error {
	_, err := r.exec(ctx, "connect", r.cmds.Connect, map[string]string{"ssid": ssid, "passphrase": passphrase})
	return err
}

// StationConnected reports true when the check command prints "connected".
func (r *CommandRadio) StationConnected(ctx context.Context) (bool, error) {
	out, err := r.exec(ctx, "check", r.cmds.Check, nil)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "connected", nil
}

func (r *CommandRadio) DisconnectStation(ctx context.Context) error {
	_, err := r.exec(ctx, "disconnect", r.cmds.Disconnect, nil)
	return err
}

func (r *CommandRadio) StartAP(ctx context.Context, ssid, passphrase string) error {
	_, err := r.exec(ctx, "start_ap", r.cmds.StartAP, map[string]string{"ssid": ssid, "passphrase": passphrase})
	return err
}

func (r *CommandRadio) StopAP(ctx context.Context) error {
	_, err := r.exec(ctx, "stop_ap", r.cmds.StopAP, nil)
	return err
}

func (r *CommandRadio) exec(ctx context.Context, op, tmpl string, vars map[string]string) (string, error) {
	argv, err := expand(tmpl, r.iface, vars)
	if err != nil {
		return "", domain.NewDomainError("CommandRadio."+op, fmt.Errorf("%w: %w", domain.ErrRadio, err), "")
	}
	if len(argv) == 0 {
		// An empty template disables the operation.
		return "", nil
	}
	out, err := r.run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return "", domain.NewDomainError("CommandRadio."+op,
			fmt.Errorf("%w: %w", domain.ErrRadio, err), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// expand splits tmpl into argv and substitutes placeholders per argument, so
// a passphrase containing spaces or quotes stays a single argument.
func expand(tmpl, iface string, vars map[string]string) ([]string, error) {
	argv, err := shlex.Split(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", tmpl, err)
	}
	pairs := []string{"{iface}", iface}
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	rep := strings.NewReplacer(pairs...)
	for i, arg := range argv {
		argv[i] = rep.Replace(arg)
	}
	return argv, nil
}

var (
	_ domain.Radio = (*CommandRadio)(nil)
	_ domain.Radio = (*SimRadio)(nil)
)

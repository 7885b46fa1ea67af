// Package interactive provides the interactive command-line interface
// for the joiner daemon.
package interactive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/meshcop-protocol/joiner-go/internal/softdevice"
	"github.com/meshcop-protocol/joiner-go/pkg/config"
	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
)

// Shell handles interactive mode for joinerd.
type Shell struct {
	j      *joiner.Joiner
	device *softdevice.Device
	cfg    config.Config
	rl     *readline.Instance
}

// New creates the interactive shell and hooks the joiner's callbacks to
// its output.
func New(j *joiner.Joiner, device *softdevice.Device, cfg config.Config) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "joiner> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := &Shell{j: j, device: device, cfg: cfg, rl: rl}

	j.OnStateChange(func(old, new joiner.State) {
		fmt.Fprintf(s.rl.Stdout(), "state: %s -> %s\n", old, new)
	})
	j.OnClosed(func(err error) {
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "attempt closed: %v\n", err)
			return
		}
		fmt.Fprintln(s.rl.Stdout(), "attempt closed: finalize accepted")
	})

	return s, nil
}

// Stdout returns a writer coordinated with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "start":
			s.cmdStart(args)

		case "stop":
			s.cmdStop()

		case "state", "st":
			s.cmdState()

		case "identity", "id":
			s.cmdIdentity()

		case "creds":
			s.cmdCreds()

		case "ports":
			s.cmdPorts()

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
Joiner Commands:
  start [pskd [url]] - Start a join attempt (defaults from config)
  stop               - Stop the current attempt
  state              - Show session state and selected router
  identity           - Show hardware identity and link-local address
  creds              - Show provisioned network credentials
  ports              - Show open firewall exceptions
  help               - Show this help
  quit               - Exit`)
}

func (s *Shell) cmdStart(args []string) {
	pskd := s.cfg.PSKd
	url := s.cfg.ProvisioningURL
	if len(args) > 0 {
		pskd = args[0]
	}
	if len(args) > 1 {
		url = args[1]
	}

	if err := s.j.Start(pskd, url); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "start failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "attempt %s started\n", s.j.SessionID())
}

func (s *Shell) cmdStop() {
	s.j.Stop()
	fmt.Fprintln(s.rl.Stdout(), "stopped")
}

func (s *Shell) cmdState() {
	fmt.Fprintf(s.rl.Stdout(), "state: %s\n", s.j.State())
	if c := s.j.Candidate(); c != nil {
		fmt.Fprintf(s.rl.Stdout(), "router: %s pan=%#04x channel=%d port=%d\n",
			c.ExtAddress, c.PanID, c.Channel, c.UDPPort)
	}
}

func (s *Shell) cmdIdentity() {
	fmt.Fprintf(s.rl.Stdout(), "factory:    %s\n", s.device.FactoryAddress())
	fmt.Fprintf(s.rl.Stdout(), "active:     %s\n", s.device.ExtAddress())
	fmt.Fprintf(s.rl.Stdout(), "link-local: %s\n", s.device.LinkLocalAddr())
}

func (s *Shell) cmdCreds() {
	name := s.device.NetworkName()
	if name == "" {
		fmt.Fprintln(s.rl.Stdout(), "no credentials provisioned")
		return
	}
	xpan := s.device.ExtendedPanID()
	prefix := s.device.MeshLocalPrefix()
	_, hasKey := s.device.MasterKey()
	fmt.Fprintf(s.rl.Stdout(), "network:    %s\n", name)
	fmt.Fprintf(s.rl.Stdout(), "xpan:       %s\n", hex.EncodeToString(xpan[:]))
	fmt.Fprintf(s.rl.Stdout(), "prefix:     %s::/64\n", hex.EncodeToString(prefix[:]))
	fmt.Fprintf(s.rl.Stdout(), "master key: set=%v\n", hasKey)
}

func (s *Shell) cmdPorts() {
	ports := s.device.UnsecurePorts()
	if len(ports) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "no open firewall exceptions")
		return
	}
	for _, p := range ports {
		fmt.Fprintf(s.rl.Stdout(), "udp/%d\n", p)
	}
}

// Command joinerd runs a joining device: it discovers commissioning
// routers, performs the secured finalize exchange, and installs the
// credentials pushed by the commissioner.
//
// Usage:
//
//	joinerd [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-pskd string       Joining credential, overrides the config file
//	-url string        Provisioning URL, overrides the config file
//	-sim               Run against a built-in simulated commissioner
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Join a real network with an mDNS-discovered router
//	joinerd -config /etc/joiner.yaml
//
//	# Exercise the full exchange locally
//	joinerd -pskd J01NME -sim
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshcop-protocol/joiner-go/cmd/joinerd/interactive"
	"github.com/meshcop-protocol/joiner-go/internal/simulator"
	"github.com/meshcop-protocol/joiner-go/internal/softdevice"
	"github.com/meshcop-protocol/joiner-go/pkg/config"
	"github.com/meshcop-protocol/joiner-go/pkg/discovery"
	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
	"github.com/meshcop-protocol/joiner-go/pkg/log"
	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
	"github.com/meshcop-protocol/joiner-go/pkg/securechannel"
	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

var (
	configPath = flag.String("config", "", "Configuration file path (YAML)")
	pskd       = flag.String("pskd", "", "Joining credential, overrides the config file")
	provURL    = flag.String("url", "", "Provisioning URL, overrides the config file")
	simMode    = flag.Bool("sim", false, "Run against a built-in simulated commissioner")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	device := softdevice.New(randomIdentity())

	messaging, err := transfer.NewUDPServer(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind messaging endpoint: %w", err)
	}
	defer messaging.Close()
	messaging.SetLogger(logger, "")

	channel, err := securechannel.NewClient(securechannel.ClientConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create secured channel: %w", err)
	}
	defer channel.Close()

	var discoverer joiner.Discoverer
	if *simMode {
		sim, err := startSimulator(cfg, messaging.LocalPort(), logger)
		if err != nil {
			return err
		}
		defer sim.Close()
		discoverer = sim.Discoverer()
	} else {
		discoverer = discovery.NewMDNSDiscoverer(discovery.BrowserConfig{
			Window:    cfg.DiscoveryWindow,
			Interface: cfg.Interface,
		})
	}
	if cfg.PanID != joiner.PanIDBroadcast {
		discoverer = panRestriction{next: discoverer, panID: cfg.PanID}
	}

	j, err := joiner.New(joiner.Deps{
		Link:       device,
		Mesh:       device,
		Keys:       device,
		Discoverer: discoverer,
		Channel:    channel,
		Messaging:  messaging,
		Filter:     device,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	j.SetRotationDelay(cfg.RotationDelay)

	shell, err := interactive.New(j, device, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	shell.Run(ctx, cancel)
	j.Stop()
	return nil
}

// loadConfig merges the config file (or the defaults) with the flag
// overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if *pskd != "" {
		cfg.PSKd = *pskd
	}
	if *provURL != "" {
		cfg.ProvisioningURL = *provURL
	}
	if err := meshcop.ValidatePSKd(cfg.PSKd); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildLogger assembles the console logger plus, when configured, the
// CBOR event file.
func buildLogger(cfg config.Config) (log.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	console := log.NewSlogAdapter(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if cfg.LogFile == "" {
		return console, func() {}, nil
	}

	file, err := log.NewFileLogger(cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return log.MultiLogger{console, file}, func() { file.Close() }, nil
}

// startSimulator runs the built-in commissioner admitting this device.
func startSimulator(cfg config.Config, entrustPort uint16, logger log.Logger) (*simulator.Simulator, error) {
	var routerExt joiner.ExtAddress
	if _, err := rand.Read(routerExt[:]); err != nil {
		return nil, err
	}

	creds := joiner.Credentials{
		NetworkName:     "sim-mesh",
		ActiveTimestamp: meshcop.ActiveTimestamp{Seconds: 1, Authoritative: true},
	}
	if _, err := rand.Read(creds.MasterKey[:]); err != nil {
		return nil, err
	}
	creds.MeshLocalPrefix = [8]byte{0xfd, 0x00, 0x0d, 0xb8, 0x00, 0x00, 0x00, 0x00}
	if _, err := rand.Read(creds.ExtendedPanID[:]); err != nil {
		return nil, err
	}

	return simulator.New(simulator.Config{
		PSK:         []byte(cfg.PSKd),
		ExtAddress:  routerExt,
		PanID:       0x1234,
		Channel:     15,
		Credentials: creds,
		EntrustPort: entrustPort,
		Advertise:   true,
		Logger:      logger,
	})
}

// panRestriction narrows a discovery scan to the configured PAN even
// when the joiner itself scans with the broadcast sentinel.
type panRestriction struct {
	next  joiner.Discoverer
	panID uint16
}

func (p panRestriction) Discover(panID uint16, onResult func(*joiner.DiscoveryResult)) error {
	if panID == joiner.PanIDBroadcast {
		panID = p.panID
	}
	return p.next.Discover(panID, onResult)
}

// randomIdentity generates the device's factory hardware identity.
func randomIdentity() joiner.ExtAddress {
	var ext joiner.ExtAddress
	if _, err := rand.Read(ext[:]); err != nil {
		panic(err)
	}
	return ext
}

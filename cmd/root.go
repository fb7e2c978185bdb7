package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wikilift/sle-suite-pro/internal/config"
	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/card"
	"github.com/wikilift/sle-suite-pro/pkg/pcsc"
	"github.com/wikilift/sle-suite-pro/pkg/simcard"
	"github.com/wikilift/sle-suite-pro/pkg/suite"
)

var (
	// Global flags
	verbose    bool
	configPath string
	readerArg  string
	familyArg  string
	logFormat  string
	traceAPDU  bool
	waitCard   bool
	pinHex     string
	simPIN     string
	simImage   string
)

var rootCmd = &cobra.Command{
	Use:   "slesuite",
	Short: "SLE4442/5542 and SLE4428/5528 memory card tool",
	Long: `Read, write, protect and unlock SLE44xx/55xx memory cards through a
PC/SC reader (ACR38 and compatibles).

Examples:
  slesuite readers                                   # List PC/SC readers
  slesuite detect                                    # Identify the card family
  slesuite read -o dump.bin                          # Dump the main memory
  slesuite write --addr 0x40 --hex "DE AD" --pin FFFFFF
  slesuite recover-pin --reader sim:sle4428          # Brute force on the simulator`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs, APDUs)")
	pf.StringVarP(&configPath, "config", "c", config.DefaultPath, "config file")
	pf.StringVarP(&readerArg, "reader", "r", "",
		"reader index, name substring, or sim:<family> for the simulator")
	pf.StringVar(&familyArg, "family", "", "force the card family (skip detection)")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")
	pf.BoolVar(&traceAPDU, "trace", false, "print every APDU exchanged")
	pf.BoolVar(&waitCard, "wait", false, "wait for a card to be inserted")
	pf.StringVar(&pinHex, "pin", "", "PIN in hex (prompted when needed and not set)")
	pf.StringVar(&simPIN, "sim-pin", "", "simulator: PSC in hex (default FFFFFF / FFFF)")
	pf.StringVar(&simImage, "sim-image", "", "simulator: raw dump loaded into the card")
}

// cardSession is an opened card with its cleanup.
type cardSession struct {
	*suite.Connection
	log   *slog.Logger
	cfg   *config.Config
	close func() error
}

func (s *cardSession) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if traceAPDU {
		cfg.Trace = true
	}
	if familyArg != "" {
		cfg.Card.Family = familyArg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openCard connects to the configured reader and identifies the card.
func openCard(cmd *cobra.Command) (*cardSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	transport, closeFn, err := openTransport(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}

	forced, _ := cfg.Family()
	conn, err := suite.Open(transport, suite.Options{
		Family:   forced,
		Fallback: cfg.Fallback(),
		Trace:    cfg.Trace,
	}, logger)
	if err != nil {
		closeFn()
		return nil, err
	}

	return &cardSession{Connection: conn, log: logger, cfg: cfg, close: closeFn}, nil
}

func openTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (card.Transport, func() error, error) {
	if name, ok := strings.CutPrefix(readerArg, "sim:"); ok {
		sim, err := newSimulator(name)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using simulator", "card", sim.String())
		return sim, sim.Close, nil
	}

	sel := pcsc.Selector{Index: cfg.Reader.Index, Name: cfg.Reader.Name}
	if readerArg != "" {
		if idx, err := strconv.Atoi(readerArg); err == nil {
			sel = pcsc.Selector{Index: &idx}
		} else {
			sel = pcsc.Selector{Name: readerArg}
		}
	}

	reader, err := pcsc.Open(sel, logger)
	if err != nil {
		return nil, nil, err
	}
	if waitCard {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := reader.WaitForCard(ctx); err != nil {
			reader.Close()
			return nil, nil, err
		}
	}
	if err := reader.Connect(); err != nil {
		reader.Close()
		return nil, nil, err
	}
	return reader, reader.Close, nil
}

func newSimulator(name string) (*simcard.Card, error) {
	family, err := card.ParseFamily(name)
	if err != nil {
		return nil, err
	}

	var psc []byte
	if simPIN != "" {
		if psc, err = parseHex(simPIN); err != nil {
			return nil, fmt.Errorf("--sim-pin: %w", err)
		}
		if err := card.CheckPIN(family, psc); err != nil {
			return nil, fmt.Errorf("--sim-pin: %w", err)
		}
	}

	var sim *simcard.Card
	switch family.Wire() {
	case card.TwoWire:
		if psc == nil {
			psc = []byte{0xFF, 0xFF, 0xFF}
		}
		sim = simcard.NewSLE4442(psc)
	case card.ThreeWire:
		if psc == nil {
			psc = []byte{0xFF, 0xFF}
		}
		sim = simcard.NewSLE4428(psc)
	default:
		return nil, fmt.Errorf("simulator: %q is not a card family", name)
	}

	if simImage != "" {
		f, err := os.Open(simImage)
		if err != nil {
			return nil, fmt.Errorf("--sim-image: %w", err)
		}
		defer f.Close()
		image, err := card.ReadImage(f, family.MemorySize())
		if err != nil {
			return nil, fmt.Errorf("--sim-image: %w", err)
		}
		sim.Load(0, image)
		if family.Wire() == card.ThreeWire {
			// Keep the simulated PSC over whatever the dump holds.
			sim.Load(int(apdu.AddrPSC1), psc)
		}
	}
	return sim, nil
}

// readPIN takes the PIN from --pin, the config pin_file or a hidden prompt.
func readPIN(cmd *cobra.Command, s *cardSession) ([]byte, error) {
	if pinHex != "" {
		return parseHex(pinHex)
	}
	if pin, err := s.cfg.PIN(); err != nil || pin != nil {
		return pin, err
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("no PIN given: use --pin or card.pin_file")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "PIN for %s (%d bytes, hex): ", s.Family(), s.Family().PINLength())
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("read PIN: %w", err)
	}
	return parseHex(string(raw))
}

func authenticate(cmd *cobra.Command, s *cardSession) error {
	pin, err := readPIN(cmd, s)
	if err != nil {
		return err
	}
	return s.Driver.Authenticate(pin)
}

// finish prints the APDU trace when enabled and closes the session.
func finish(cmd *cobra.Command, s *cardSession) {
	if s.Trace != nil && len(*s.Trace) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), s.Trace.Describe())
	}
	if err := s.Close(); err != nil {
		s.log.Warn("close failed", "err", err)
	}
}

func parseHex(s string) ([]byte, error) {
	clean := strings.Join(strings.Fields(s), "")
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return data, nil
}

// parseAddr accepts decimal or 0x prefixed addresses.
func parseAddr(s string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return int(v), nil
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmcleod/localtrust/internal/logging"
	"github.com/jmcleod/localtrust/ledger"
	"github.com/jmcleod/localtrust/trustchain"
)

// defaultLedger is expanded against the resolved storage path.
const defaultLedger = "{path}/ledger.db"

var rootCmd = &cobra.Command{
	Use:   "localtrust",
	Short: "localtrust maintains a local development trust chain",
	Long: `Creates and maintains a self-signed certificate authority and a leaf
certificate for localhost and this machine's IPv4 addresses, so local HTTPS
servers can be trusted after importing the CA once.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		memguard.SafeExit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("path", "", "Storage directory (default ~/.local-trust-chain)")
	flags.String("ledger", defaultLedger, "Issuance ledger database; empty disables it")

	flags.String("ca-filename", "", "CA file name without extension (default local-ca)")
	flags.Int("ca-key-size", 0, "CA RSA key size, 2048 or 4096")
	flags.Int("ca-validity", 0, "CA validity in days (default 730)")
	flags.Bool("ca-save-to-disc", true, "Persist the CA certificate and key")
	flags.String("ca-passphrase", "", "Encrypt the CA key with this passphrase")

	flags.String("cert-filename", "", "Leaf file name without extension (default local)")
	flags.Int("cert-key-size", 0, "Leaf RSA key size, 2048 or 4096")
	flags.Int("cert-validity", 0, "Leaf validity in days (default 730)")
	flags.Bool("cert-save-to-disc", false, "Persist the leaf certificate and key")
	flags.Bool("cert-verify-san", true, "Regenerate a persisted leaf that misses a local address")
}

// config is the merged flag, environment and file configuration.
type config struct {
	trustchain.Options `mapstructure:",squash"`

	LogLevel string `mapstructure:"log-level"`
	Ledger   string `mapstructure:"ledger"`
	Addr     string `mapstructure:"addr"`
}

// flagKeys maps flag names to their nested configuration keys.
var flagKeys = map[string]string{
	"log-level":         "log-level",
	"path":              "path",
	"ledger":            "ledger",
	"addr":              "addr",
	"ca-filename":       "ca.filename",
	"ca-key-size":       "ca.key-size",
	"ca-validity":       "ca.validity",
	"ca-save-to-disc":   "ca.save-to-disc",
	"ca-passphrase":     "ca.passphrase",
	"cert-filename":     "cert.filename",
	"cert-key-size":     "cert.key-size",
	"cert-validity":     "cert.validity",
	"cert-save-to-disc": "cert.save-to-disc",
	"cert-verify-san":   "cert.verify-san",
}

// parseConfig merges, in decreasing precedence, flags, LOCALTRUST_*
// environment variables and the optional config file.
func parseConfig(cmd *cobra.Command) (*config, error) {
	v := viper.New()

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("LOCALTRUST")
	v.AutomaticEnv()

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// session is everything a command needs after configuration is resolved.
type session struct {
	cfg      *config
	settings trustchain.Settings
	logger   *zap.Logger
	ledger   *ledger.Ledger
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := parseConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, settings: cfg.Options.WithDefaults(), logger: logger}
	if path := s.ledgerPath(); path != "" {
		l, err := ledger.Open(path)
		if err != nil {
			return nil, err
		}
		s.ledger = l
	}
	return s, nil
}

func (s *session) ledgerPath() string {
	return strings.ReplaceAll(s.cfg.Ledger, "{path}", strings.TrimSuffix(s.settings.Path, string(os.PathSeparator)))
}

// chain constructs the trust chain, recording issuances in the ledger when
// one is open.
func (s *session) chain() (*trustchain.Chain, error) {
	options := []trustchain.Option{trustchain.WithLogger(s.logger)}
	if s.ledger != nil {
		options = append(options, trustchain.WithRecorder(s.ledger))
	}
	return trustchain.New(s.cfg.Options, options...)
}

func (s *session) Close() error {
	var errs []error
	if s.ledger != nil {
		errs = append(errs, s.ledger.Close())
	}
	// Sync returns EINVAL for terminals.
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

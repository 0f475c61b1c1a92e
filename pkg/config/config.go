package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
	"github.com/ledgerexec/ledgerexec/pkg/network"
	"github.com/ledgerexec/ledgerexec/pkg/policy"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
	"github.com/ledgerexec/ledgerexec/pkg/transports/grpcnode"
)

// Environment variables applied over the file.
const (
	EnvNetwork     = "LEDGEREXEC_NETWORK"
	EnvOperatorID  = "LEDGEREXEC_OPERATOR_ID"
	EnvOperatorKey = "LEDGEREXEC_OPERATOR_KEY"
)

// ErrNoOperator is returned by Operator when none is configured.
var ErrNoOperator = errors.New("no operator configured")

// Config is the client configuration file.
type Config struct {
	// Network is a ledger name (mainnet, testnet, previewnet) or hex ledger id.
	Network string `yaml:"network" validate:"required,ledger"`

	// Nodes is the address book.
	Nodes []NodeConfig `yaml:"nodes" validate:"required,min=1,dive"`

	// SuperMajority overrides the number of nodes a paid request is planned
	// for. Zero derives it from the node count.
	SuperMajority int `yaml:"super_majority" validate:"gte=0"`

	Operator  OperatorConfig  `yaml:"operator"`
	Execution ExecutionConfig `yaml:"execution"`
	Transport TransportConfig `yaml:"transport"`
	History   HistoryConfig   `yaml:"history"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// NodeConfig is one address book entry.
type NodeConfig struct {
	AccountID string `yaml:"account_id" validate:"required,account"`
	Address   string `yaml:"address" validate:"required"`
}

// OperatorConfig is the paying account. Either PrivateKey or Mnemonic may
// hold the key; both empty leaves the client read-only.
type OperatorConfig struct {
	AccountID    string `yaml:"account_id" validate:"omitempty,account"`
	PrivateKey   string `yaml:"private_key" validate:"excluded_with=Mnemonic"`
	Mnemonic     string `yaml:"mnemonic"`
	MnemonicPass string `yaml:"mnemonic_passphrase"`
	KeyIndex     uint32 `yaml:"key_index"`
}

// ExecutionConfig mirrors engine.Config.
type ExecutionConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
	MinBackoff        time.Duration `yaml:"min_backoff" validate:"gte=0"`
	MaxBackoff        time.Duration `yaml:"max_backoff" validate:"gtefield=MinBackoff"`
	MaxTransactionFee uint64        `yaml:"max_transaction_fee"`
	MaxQueryPayment   uint64        `yaml:"max_query_payment"`
	ValidDuration     time.Duration `yaml:"valid_duration" validate:"gt=0,lte=3m"`
	SkipCostProbe     bool          `yaml:"skip_cost_probe"`
}

// TransportConfig mirrors grpcnode.Config.
type TransportConfig struct {
	MaxMessageBytes   int           `yaml:"max_message_bytes" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	LimiterIdleTTL    time.Duration `yaml:"limiter_idle_ttl" validate:"gte=0"`
}

// HistoryConfig controls the SQLite execution history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// PolicyConfig controls the spending guard that approves paid requests.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths are Rego or JSON policy files and directories loaded next to
	// the built-in limit policies.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads Paths when a policy file changes.
	Watch bool `yaml:"watch"`

	Limits PolicyLimits `yaml:"limits"`
}

// PolicyLimits feeds data.limits. Zero disables a limit.
type PolicyLimits struct {
	MaxTransfer     int64    `yaml:"max_transfer" validate:"gte=0"`
	MaxQueryPayment uint64   `yaml:"max_query_payment"`
	MaxFee          uint64   `yaml:"max_fee"`
	BlockedAccounts []string `yaml:"blocked_accounts" validate:"dive,account"`
}

// TelemetryConfig selects logging, metrics and tracing.
type TelemetryConfig struct {
	LogLevel        string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat       string `yaml:"log_format" validate:"omitempty,oneof=console json"`
	MetricsAddress  string `yaml:"metrics_address"`
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=none stdout otlp"`
	TracingEndpoint string `yaml:"tracing_endpoint" validate:"required_if=TracingExporter otlp"`
}

// Default returns the configuration used for fields the file leaves out.
func Default() *Config {
	exec := engine.DefaultConfig()
	tr := grpcnode.DefaultConfig()
	return &Config{
		Network: "testnet",
		Execution: ExecutionConfig{
			MaxAttempts:       exec.MaxAttempts,
			AttemptTimeout:    exec.AttemptTimeout,
			MinBackoff:        exec.MinBackoff,
			MaxBackoff:        exec.MaxBackoff,
			MaxTransactionFee: exec.MaxTransactionFee,
			MaxQueryPayment:   exec.MaxQueryPayment,
			ValidDuration:     exec.ValidDuration,
		},
		Transport: TransportConfig{
			MaxMessageBytes: tr.MaxMsgBytes,
			Burst:           tr.Burst,
			LimiterIdleTTL:  tr.LimiterIdleTTL,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
		},
	}
}

// Load reads, parses and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default, applies overrides from lookup and
// validates. Unknown keys are rejected.
func Parse(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if lookup != nil {
		cfg.ApplyEnv(lookup)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the network and operator from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvNetwork); ok && v != "" {
		c.Network = v
	}
	if v, ok := lookup(EnvOperatorID); ok && v != "" {
		c.Operator.AccountID = v
	}
	if v, ok := lookup(EnvOperatorKey); ok && v != "" {
		c.Operator.PrivateKey = v
		c.Operator.Mnemonic = ""
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("account", func(fl validator.FieldLevel) bool {
		_, err := entity.Parse(entity.KindAccount, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("ledger", func(fl validator.FieldLevel) bool {
		_, err := entity.ParseLedgerID(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	hasKey := c.Operator.PrivateKey != "" || c.Operator.Mnemonic != ""
	if hasKey != (c.Operator.AccountID != "") {
		return fmt.Errorf("invalid config: operator needs both account_id and a key")
	}
	if c.SuperMajority > len(c.Nodes) {
		return fmt.Errorf("invalid config: super_majority %d exceeds node count %d", c.SuperMajority, len(c.Nodes))
	}
	if _, err := c.NetworkNodes(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LedgerID returns the configured ledger.
func (c *Config) LedgerID() (entity.LedgerID, error) {
	return entity.ParseLedgerID(c.Network)
}

// NetworkNodes converts the address book, rejecting duplicate accounts.
func (c *Config) NetworkNodes() ([]network.Node, error) {
	nodes := make([]network.Node, 0, len(c.Nodes))
	seen := make(map[entity.ID]struct{}, len(c.Nodes))
	for i, n := range c.Nodes {
		id, err := entity.Parse(entity.KindAccount, n.AccountID)
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("nodes[%d]: duplicate node %s", i, id)
		}
		seen[id] = struct{}{}
		nodes = append(nodes, network.Node{AccountID: id, Address: n.Address})
	}
	return nodes, nil
}

// NetworkOptions returns the network options implied by the file.
func (c *Config) NetworkOptions() []network.Option {
	if c.SuperMajority > 0 {
		return []network.Option{network.WithSuperMajority(c.SuperMajority)}
	}
	return nil
}

// OperatorKey returns the operator account and its private key.
func (c *Config) OperatorKey() (entity.ID, keys.PrivateKey, error) {
	op := c.Operator
	if op.AccountID == "" {
		return entity.ID{}, keys.PrivateKey{}, ErrNoOperator
	}
	id, err := entity.Parse(entity.KindAccount, op.AccountID)
	if err != nil {
		return entity.ID{}, keys.PrivateKey{}, fmt.Errorf("operator account: %w", err)
	}

	var key keys.PrivateKey
	if op.Mnemonic != "" {
		key, err = keys.FromMnemonic(op.Mnemonic, op.MnemonicPass, op.KeyIndex)
	} else {
		key, err = keys.ParsePrivateKey(op.PrivateKey)
	}
	if err != nil {
		return entity.ID{}, keys.PrivateKey{}, fmt.Errorf("operator key: %w", err)
	}
	return id, key, nil
}

// EngineConfig returns the execution settings.
func (c *Config) EngineConfig() engine.Config {
	e := c.Execution
	cfg := engine.Config{
		MaxAttempts:       e.MaxAttempts,
		AttemptTimeout:    e.AttemptTimeout,
		MinBackoff:        e.MinBackoff,
		MaxBackoff:        e.MaxBackoff,
		MaxTransactionFee: e.MaxTransactionFee,
		MaxQueryPayment:   e.MaxQueryPayment,
		ValidDuration:     e.ValidDuration,
		SkipCostProbe:     e.SkipCostProbe,
	}
	if cfg.MaxTransactionFee == 0 {
		cfg.MaxTransactionFee = engine.DefaultMaxTransactionFee
	}
	return cfg
}

// PolicyLimits returns the spending limits with account ids normalized.
func (c *Config) PolicyLimits() (policy.Limits, error) {
	l := c.Policy.Limits
	blocked := make([]string, 0, len(l.BlockedAccounts))
	for _, a := range l.BlockedAccounts {
		id, err := entity.Parse(entity.KindAccount, a)
		if err != nil {
			return policy.Limits{}, fmt.Errorf("blocked account %q: %w", a, err)
		}
		blocked = append(blocked, id.String())
	}
	return policy.Limits{
		MaxTransfer:     l.MaxTransfer,
		MaxQueryPayment: l.MaxQueryPayment,
		MaxFee:          l.MaxFee,
		BlockedAccounts: blocked,
	}, nil
}

// TransportConfig returns the gRPC transport settings.
func (c *Config) TransportConfig() grpcnode.Config {
	return grpcnode.Config{
		MaxMsgBytes:       c.Transport.MaxMessageBytes,
		RequestsPerSecond: c.Transport.RequestsPerSecond,
		Burst:             c.Transport.Burst,
		LimiterIdleTTL:    c.Transport.LimiterIdleTTL,
	}
}

// TelemetryConfig returns telemetry settings layered over telemetry defaults.
func (c *Config) TelemetryConfig() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	t := c.Telemetry
	if t.LogLevel != "" {
		tc.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		tc.Logging.Format = t.LogFormat
	}
	if t.MetricsAddress != "" {
		tc.Metrics.Enabled = true
		tc.Metrics.ListenAddress = t.MetricsAddress
	}
	if t.TracingExporter != "" {
		tc.Tracing.Exporter = t.TracingExporter
		tc.Tracing.Endpoint = t.TracingEndpoint
	}
	return tc
}

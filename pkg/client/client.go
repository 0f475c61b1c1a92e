// Package client wires configuration, the node list, signing keys, the gRPC
// transport, telemetry and execution history into a ready Engine, and offers
// the account operations the CLI exposes.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/ledgerexec/ledgerexec/pkg/config"
	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/network"
	"github.com/ledgerexec/ledgerexec/pkg/policy"
	"github.com/ledgerexec/ledgerexec/pkg/requests"
	"github.com/ledgerexec/ledgerexec/pkg/stores"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
	"github.com/ledgerexec/ledgerexec/pkg/transports/grpcnode"
)

// ErrReadOnly is returned by operations that pay when no operator is configured.
var ErrReadOnly = errors.New("client has no operator")

type options struct {
	tel      *telemetry.Telemetry
	dialOpts []grpc.DialOption
	store    stores.Store
}

// Option configures a Client.
type Option func(*options)

// WithTelemetry replaces telemetry built from the config.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) { o.tel = tel }
}

// WithDialOptions passes extra gRPC dial options to the transport.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// WithStore records history in store instead of the configured database.
func WithStore(store stores.Store) Option {
	return func(o *options) { o.store = store }
}

// Client owns every component built from one Config.
type Client struct {
	network   *network.Network
	transport *grpcnode.Transport
	engine    *engine.Engine
	store     stores.Store
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
	guard     *policy.Guard

	policyPaths []string
	watchPolicy bool

	operator    entity.ID
	hasOperator bool
	ownsTel     bool
	ownsStore   bool

	closeOnce sync.Once
	closeErr  error
}

// New builds a client from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{tel: o.tel, store: o.store}
	if err := c.init(ctx, cfg, o); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) init(ctx context.Context, cfg *config.Config, o *options) error {
	var err error

	if c.tel == nil {
		c.tel, err = telemetry.NewTelemetry(cfg.TelemetryConfig())
		if err != nil {
			return fmt.Errorf("failed to create telemetry: %w", err)
		}
		c.ownsTel = true
		if err := c.tel.StartMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	c.logger = c.tel.Logger.NewComponentLogger("client")

	ledger, err := cfg.LedgerID()
	if err != nil {
		return err
	}
	nodes, err := cfg.NetworkNodes()
	if err != nil {
		return err
	}
	c.network, err = network.New(ledger, nodes, cfg.NetworkOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create network: %w", err)
	}
	c.tel.Metrics.SetNodeCount(c.network.Len())

	c.transport, err = grpcnode.New(cfg.TransportConfig(), c.network,
		grpcnode.WithDialOptions(o.dialOpts...),
		grpcnode.WithLogger(c.tel.Logger),
	)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{engine.WithTelemetry(c.tel)}
	switch id, key, opErr := cfg.OperatorKey(); {
	case opErr == nil:
		c.operator, c.hasOperator = id, true
		engineOpts = append(engineOpts, engine.WithOperator(engine.Operator{AccountID: id, Signer: key}))
	case errors.Is(opErr, config.ErrNoOperator):
		c.logger.Debug("no operator configured, paid requests will fail")
	default:
		return opErr
	}

	if c.store == nil && cfg.History.Enabled {
		store, err := openStore(ctx, cfg.History.Path)
		if err != nil {
			return err
		}
		c.store, c.ownsStore = store, true
	}
	if c.store != nil {
		engineOpts = append(engineOpts, engine.WithRecorder(c.store))
	}

	if cfg.Policy.Enabled {
		if err := c.initGuard(ctx, cfg); err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithAuthorizer(c.guard))
	}

	c.engine, err = engine.New(cfg.EngineConfig(), c.network, c.transport, engineOpts...)
	if err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"ledger":   ledger.String(),
		"nodes":    c.network.Len(),
		"operator": c.operator.String(),
	}).Debug("client ready")
	return nil
}

func (c *Client) initGuard(ctx context.Context, cfg *config.Config) error {
	limits, err := cfg.PolicyLimits()
	if err != nil {
		return err
	}
	c.guard, err = policy.NewGuard(ctx, limits, policy.WithLogger(c.tel.Logger))
	if err != nil {
		return fmt.Errorf("failed to create policy guard: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := c.guard.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
	}
	c.policyPaths = cfg.Policy.Paths
	c.watchPolicy = cfg.Policy.Watch && len(cfg.Policy.Paths) > 0
	return nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Engine returns the execution engine.
func (c *Client) Engine() *engine.Engine { return c.engine }

// Network returns the live node list.
func (c *Client) Network() *network.Network { return c.network }

// History returns the execution history, or nil when disabled.
func (c *Client) History() stores.Store { return c.store }

// Policy returns the spending guard, or nil when disabled.
func (c *Client) Policy() *policy.Guard { return c.guard }

// Operator returns the paying account.
func (c *Client) Operator() (entity.ID, bool) { return c.operator, c.hasOperator }

// ApplyConfig swaps the node list to the one in cfg and closes connections
// to nodes that left. Spending limits are replaced when the guard is on.
// Other settings need a new client.
func (c *Client) ApplyConfig(cfg *config.Config) error {
	nodes, err := cfg.NetworkNodes()
	if err != nil {
		return err
	}
	var limits policy.Limits
	if c.guard != nil {
		if limits, err = cfg.PolicyLimits(); err != nil {
			return err
		}
	}
	if err := c.network.SetNodes(nodes); err != nil {
		return err
	}
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Address
	}
	c.transport.Prune(addrs)
	c.tel.Metrics.SetNodeCount(len(nodes))
	if c.guard != nil {
		if err := c.guard.SetLimits(context.Background(), limits); err != nil {
			return fmt.Errorf("failed to update policy limits: %w", err)
		}
	}
	c.logger.WithField("nodes", len(nodes)).Info("node list updated")
	return nil
}

// Watch applies node list changes from the config file at path until ctx
// ends. With policy watching enabled, policy files are reloaded as well.
func (c *Client) Watch(ctx context.Context, path string) error {
	if c.watchPolicy {
		if err := c.guard.Watch(ctx, c.policyPaths); err != nil {
			return err
		}
	}
	return config.NewWatcher(path, c.tel.Logger).Watch(ctx, c.ApplyConfig)
}

// GetAccountBalance runs the free balance query.
func (c *Client) GetAccountBalance(ctx context.Context, account entity.ID) (hapi.AccountBalance, error) {
	q, err := requests.AccountBalanceQuery(account).Freeze()
	if err != nil {
		return hapi.AccountBalance{}, err
	}
	resp, err := c.engine.ExecuteQuery(ctx, q)
	if err != nil {
		return hapi.AccountBalance{}, err
	}
	return requests.ParseAccountBalance(resp)
}

// GetAccountInfo runs the paid info query. The cost is probed first; a
// non-zero maxPayment caps it.
func (c *Client) GetAccountInfo(ctx context.Context, account entity.ID, maxPayment uint64) (hapi.AccountInfo, *engine.QueryResponse, error) {
	if !c.hasOperator {
		return hapi.AccountInfo{}, nil, ErrReadOnly
	}
	b := requests.AccountInfoQuery(account)
	if maxPayment > 0 {
		b.SetMaxQueryPayment(maxPayment)
	}
	q, err := b.Freeze()
	if err != nil {
		return hapi.AccountInfo{}, nil, err
	}
	resp, err := c.engine.ExecuteQuery(ctx, q)
	if err != nil {
		return hapi.AccountInfo{}, nil, err
	}
	info, err := requests.ParseAccountInfo(resp)
	return info, resp, err
}

// AccountInfoCost asks what the info query for account costs. With node set
// the probe is a single round trip to that node.
func (c *Client) AccountInfoCost(ctx context.Context, account entity.ID, node *entity.ID) (uint64, error) {
	q, err := requests.AccountInfoQuery(account).Freeze()
	if err != nil {
		return 0, err
	}
	if node != nil {
		return engine.NewCostProbe(c.transport).Probe(ctx, q, *node)
	}
	return c.engine.GetCost(ctx, q)
}

// Transfer moves amount from the operator to recipient.
func (c *Client) Transfer(ctx context.Context, recipient entity.ID, amount int64, memo string) (*engine.TransactionResponse, error) {
	if !c.hasOperator {
		return nil, ErrReadOnly
	}
	tx, err := c.buildTransfer(Payment{Recipient: recipient, Amount: amount, Memo: memo})
	if err != nil {
		return nil, err
	}
	return c.engine.ExecuteTransaction(ctx, tx)
}

// Payment is one operator debit in TransferBatch.
type Payment struct {
	Recipient entity.ID
	Amount    int64
	Memo      string
}

// TransferBatch submits one transaction per payment, concurrently. The
// error covers building the batch; per-payment failures are in the results.
func (c *Client) TransferBatch(ctx context.Context, payments []Payment, opts engine.BatchOptions) ([]engine.BatchResult[*engine.TransactionResponse], error) {
	if !c.hasOperator {
		return nil, ErrReadOnly
	}
	txs := make([]*engine.Transaction, len(payments))
	for i, p := range payments {
		tx, err := c.buildTransfer(p)
		if err != nil {
			return nil, fmt.Errorf("payment %d: %w", i, err)
		}
		txs[i] = tx
	}
	return c.engine.ExecuteTransactions(ctx, txs, opts), nil
}

func (c *Client) buildTransfer(p Payment) (*engine.Transaction, error) {
	b, err := requests.NewTransferTransaction().
		AddTransfer(c.operator, -p.Amount).
		AddTransfer(p.Recipient, p.Amount).
		SetMemo(p.Memo).
		Build()
	if err != nil {
		return nil, err
	}
	return b.Freeze()
}

// Close releases connections, the history database and telemetry exporters.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.transport != nil {
			errs = append(errs, c.transport.Close())
		}
		if c.ownsStore && c.store != nil {
			errs = append(errs, c.store.Close())
		}
		if c.ownsTel && c.tel != nil {
			errs = append(errs, c.tel.Shutdown(context.Background()))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/BadGenius22/rekon/pkg/chain"
	"github.com/BadGenius22/rekon/pkg/clob"
	"github.com/BadGenius22/rekon/pkg/creds"
	"github.com/BadGenius22/rekon/pkg/relay"
	"github.com/BadGenius22/rekon/pkg/safewallet"
)

// ChainReader is the chain-state surface the provisioner consumes.
// *chain.Reader implements it.
type ChainReader interface {
	WalletDeployment(ctx context.Context, addr common.Address) (chain.DeploymentState, error)
	ApprovalState(ctx context.Context, owner common.Address) (chain.ApprovalState, error)
	Targets() chain.ApprovalTargets
}

// Relayer submits gasless transactions and blocks until settlement.
// *relay.Client implements it.
type Relayer interface {
	Deploy(ctx context.Context, eoa common.Address) (*relay.Settlement, error)
	Execute(ctx context.Context, txns []relay.Transaction, label string) (*relay.Settlement, error)
}

// CredentialBroker resolves trading credentials for an EOA.
// *creds.Broker implements it.
type CredentialBroker interface {
	Cached(eoa string) (*creds.Credentials, bool)
	GetOrCreate(ctx context.Context, eoa string, skipDerive bool) (*creds.Credentials, error)
}

// TradingClientFactory assembles the authenticated trading client once
// provisioning succeeds.
type TradingClientFactory func(safe common.Address, credential *creds.Credentials, signer clob.Signer) *clob.Client

// Session is a connected wallet: the externally-owned address and its
// signing surface.
type Session struct {
	EOA    common.Address
	Signer clob.Signer
}

// Provisioner drives a connected wallet to trading readiness. It owns the
// full sequence: smart-wallet derivation, deployment, exchange approvals,
// credential resolution, and client assembly.
//
// Every run is resumable: each step first checks whether its outcome already
// holds and performs work only when it does not, so re-entering after a
// failure repeats nothing that succeeded.
type Provisioner struct {
	reader    ChainReader
	relayer   Relayer
	broker    CredentialBroker
	newClient TradingClientFactory
	factory   safewallet.FactoryConfig
	metrics   *Metrics
	log       *zap.Logger
	onChange  func(Snapshot)

	mu          sync.Mutex
	generation  uint64
	session     *Session
	safeAddress common.Address
	deployed    bool
	approvals   bool
	credential  *creds.Credentials
	client      *clob.Client
	phase       Phase
	lastErr     *FlowError
	running     bool
	skipDerive  bool
}

// ProvisionerOption configures the provisioner.
type ProvisionerOption func(*Provisioner)

// WithLogger sets the provisioner logger.
func WithLogger(log *zap.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.log = log }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *Metrics) ProvisionerOption {
	return func(p *Provisioner) { p.metrics = m }
}

// WithFactoryConfig overrides the smart-wallet factory parameters.
func WithFactoryConfig(cfg safewallet.FactoryConfig) ProvisionerOption {
	return func(p *Provisioner) { p.factory = cfg }
}

// WithOnChange registers a callback invoked after every state change with a
// copy of the new snapshot. The callback runs outside the provisioner lock.
func WithOnChange(fn func(Snapshot)) ProvisionerOption {
	return func(p *Provisioner) { p.onChange = fn }
}

// NewProvisioner creates a provisioner over the given collaborators.
func NewProvisioner(reader ChainReader, relayer Relayer, broker CredentialBroker, newClient TradingClientFactory, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		reader:    reader,
		relayer:   relayer,
		broker:    broker,
		newClient: newClient,
		factory:   safewallet.DefaultFactoryConfig(),
		log:       zap.NewNop(),
		phase:     PhaseDisconnected,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect binds a wallet session and resets all provisioning state. Any run
// started under a previous session keeps executing but its results are
// discarded: the generation it captured no longer matches.
func (p *Provisioner) Connect(session Session) {
	p.mu.Lock()
	p.generation++
	p.session = &session
	p.reset()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.log.Info("wallet connected", zap.String("eoa", session.EOA.Hex()))
	p.emit(snap)
}

// Disconnect drops the session and resets all provisioning state.
func (p *Provisioner) Disconnect() {
	p.mu.Lock()
	p.generation++
	p.session = nil
	p.reset()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.log.Info("wallet disconnected")
	p.emit(snap)
}

func (p *Provisioner) reset() {
	p.safeAddress = common.Address{}
	p.deployed = false
	p.approvals = false
	p.credential = nil
	p.client = nil
	p.phase = PhaseDisconnected
	p.lastErr = nil
	p.skipDerive = false
}

// Snapshot returns the current observable provisioning state.
func (p *Provisioner) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Provisioner) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:              p.phase,
		IsDeployed:         p.deployed,
		ApprovalsConfirmed: p.approvals,
		HasCredentials:     p.credential != nil,
		IsReady:            p.phase == PhaseReady,
	}
	if p.safeAddress != (common.Address{}) {
		snap.SafeAddress = p.safeAddress.Hex()
	}
	if p.lastErr != nil {
		snap.Error = p.lastErr.Err.Error()
		snap.ErrorKind = p.lastErr.Kind
		snap.ErrorPhase = p.lastErr.Phase
	}
	return snap
}

// SessionSigner returns the connected session's signer, or nil when no
// wallet is connected.
func (p *Provisioner) SessionSigner() clob.Signer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	return p.session.Signer
}

// TradingClient returns the assembled client. It is only available once the
// flow has reached ready.
func (p *Provisioner) TradingClient() (*clob.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, fmt.Errorf("provision: not ready (phase %s)", p.phase)
	}
	return p.client, nil
}

// Run executes the provisioning flow for the connected session. It is
// idempotent: steps whose outcome already holds are skipped without phase
// emission, so a fully provisioned account goes straight to ready.
//
// Run returns nil when a stale run was superseded by a reconnect; the
// superseding session owns the state now and an error would mislead.
func (p *Provisioner) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return fmt.Errorf("provision: no wallet session")
	}
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("provision: run already in progress")
	}
	p.running = true
	p.lastErr = nil
	gen := p.generation
	session := *p.session
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	start := time.Now()
	err := p.run(ctx, gen, session)

	switch {
	case errors.Is(err, errStaleRun):
		p.log.Debug("run superseded, discarding result")
		return nil
	case err != nil:
		if p.metrics != nil {
			p.metrics.Runs.WithLabelValues("failure").Inc()
		}
		return err
	default:
		if p.metrics != nil {
			p.metrics.Runs.WithLabelValues("success").Inc()
			p.metrics.RunDuration.Observe(time.Since(start).Seconds())
		}
		return nil
	}
}

func (p *Provisioner) run(ctx context.Context, gen uint64, session Session) error {
	if err := p.setPhase(gen, PhaseInitializing); err != nil {
		return err
	}

	safe, err := safewallet.Derive(session.EOA, p.factory)
	if err != nil {
		return p.fail(gen, PhaseInitializing, &FlowError{
			Kind:  KindConfig,
			Phase: PhaseInitializing,
			Err:   fmt.Errorf("derive smart wallet: %w", err),
		})
	}
	if err := p.apply(gen, func() { p.safeAddress = safe }); err != nil {
		return err
	}
	p.log.Info("smart wallet derived",
		zap.String("eoa", session.EOA.Hex()),
		zap.String("safe", safe.Hex()))

	if err := p.setPhase(gen, PhaseCheckingSafe); err != nil {
		return err
	}

	if err := p.ensureDeployed(ctx, gen, session, safe); err != nil {
		return err
	}
	if err := p.ensureApprovals(ctx, gen, safe); err != nil {
		return err
	}
	if err := p.ensureCredentials(ctx, gen, session); err != nil {
		return err
	}

	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return errStaleRun
	}
	p.client = p.newClient(safe, p.credential, session.Signer)
	p.mu.Unlock()

	if err := p.setPhase(gen, PhaseReady); err != nil {
		return err
	}
	p.log.Info("provisioning complete", zap.String("safe", safe.Hex()))
	return nil
}

// ensureDeployed makes sure code exists at the derived address, deploying
// through the relay when it does not. A failed existence read is treated as
// not deployed: deploying an already-deployed wallet is a harmless no-op on
// the factory side, while skipping a needed deploy strands the user.
func (p *Provisioner) ensureDeployed(ctx context.Context, gen uint64, session Session, safe common.Address) error {
	state, err := p.reader.WalletDeployment(ctx, safe)
	if err != nil {
		p.log.Warn("deployment read failed, assuming not deployed", zap.Error(err))
		state = chain.NotDeployed
	}
	if state == chain.Deployed {
		return p.apply(gen, func() { p.deployed = true })
	}

	if err := p.setPhase(gen, PhaseDeployingSafe); err != nil {
		return err
	}

	settlement, err := p.relayer.Deploy(ctx, session.EOA)
	if err != nil {
		if p.metrics != nil {
			p.metrics.Deploys.WithLabelValues("failure").Inc()
		}
		return p.fail(gen, PhaseDeployingSafe, err)
	}

	// The relay reports the address it deployed; a disagreement with our
	// derivation means orders would be funded by a wallet we do not control.
	if settlement.DeployedAddress != (common.Address{}) && settlement.DeployedAddress != safe {
		if p.metrics != nil {
			p.metrics.Deploys.WithLabelValues("mismatch").Inc()
		}
		return p.fail(gen, PhaseDeployingSafe, &FlowError{
			Kind:  KindVerification,
			Phase: PhaseDeployingSafe,
			Err: fmt.Errorf("deployed address %s does not match derived %s",
				settlement.DeployedAddress.Hex(), safe.Hex()),
		})
	}

	verified, err := p.reader.WalletDeployment(ctx, safe)
	if err != nil || verified != chain.Deployed {
		if p.metrics != nil {
			p.metrics.Deploys.WithLabelValues("unverified").Inc()
		}
		if err == nil {
			err = fmt.Errorf("no code at %s after deploy settlement", safe.Hex())
		}
		return p.fail(gen, PhaseDeployingSafe, &FlowError{
			Kind:  KindVerification,
			Phase: PhaseDeployingSafe,
			Err:   fmt.Errorf("verify deployment: %w", err),
		})
	}

	if p.metrics != nil {
		p.metrics.Deploys.WithLabelValues("success").Inc()
	}
	p.log.Info("smart wallet deployed",
		zap.String("safe", safe.Hex()),
		zap.String("tx_hash", settlement.TxHash))

	// A wallet deployed in this run cannot have prior trading credentials;
	// the credential step skips the pointless derive attempt once.
	return p.apply(gen, func() {
		p.deployed = true
		p.skipDerive = true
	})
}

// ensureApprovals checks the full authorization set and submits the approval
// batch when any pair is missing. The post-submit re-check reads the same
// set, so success is confirmed on-chain rather than assumed from settlement.
func (p *Provisioner) ensureApprovals(ctx context.Context, gen uint64, safe common.Address) error {
	state, err := p.reader.ApprovalState(ctx, safe)
	if err != nil {
		p.log.Warn("approval read failed, treating pairs as missing", zap.Error(err))
	}
	if state.Satisfied {
		return p.apply(gen, func() { p.approvals = true })
	}
	p.log.Info("approvals missing", zap.Strings("pairs", state.Missing))

	if err := p.setPhase(gen, PhaseSettingApprovals); err != nil {
		return err
	}

	targets := p.reader.Targets()
	if _, err := p.relayer.Execute(ctx, approvalBatch(targets), approvalLabel(targets)); err != nil {
		if p.metrics != nil {
			p.metrics.ApprovalBatches.WithLabelValues("failure").Inc()
		}
		if errors.Is(err, relay.ErrUnauthorized) {
			return p.fail(gen, PhaseSettingApprovals, err)
		}
		return p.fail(gen, PhaseSettingApprovals, &FlowError{
			Kind:  KindApproval,
			Phase: PhaseSettingApprovals,
			Err:   err,
		})
	}

	verified, err := p.reader.ApprovalState(ctx, safe)
	if err != nil || !verified.Satisfied {
		if p.metrics != nil {
			p.metrics.ApprovalBatches.WithLabelValues("unverified").Inc()
		}
		if err == nil {
			err = fmt.Errorf("pairs still missing after batch: %v", verified.Missing)
		}
		return p.fail(gen, PhaseSettingApprovals, &FlowError{
			Kind:  KindApproval,
			Phase: PhaseSettingApprovals,
			Err:   fmt.Errorf("verify approvals: %w", err),
		})
	}

	if p.metrics != nil {
		p.metrics.ApprovalBatches.WithLabelValues("success").Inc()
	}
	p.log.Info("approvals confirmed", zap.String("safe", safe.Hex()))
	return p.apply(gen, func() { p.approvals = true })
}

// ensureCredentials resolves trading credentials, consulting the cache
// before emitting any phase so a returning user sees no credential step.
func (p *Provisioner) ensureCredentials(ctx context.Context, gen uint64, session Session) error {
	eoa := session.EOA.Hex()

	if c, ok := p.broker.Cached(eoa); ok {
		if p.metrics != nil {
			p.metrics.CredentialFetch.WithLabelValues("cache").Inc()
		}
		return p.apply(gen, func() { p.credential = c })
	}

	if err := p.setPhase(gen, PhaseGettingCredentials); err != nil {
		return err
	}

	p.mu.Lock()
	skipDerive := p.skipDerive
	p.skipDerive = false
	p.mu.Unlock()

	c, err := p.broker.GetOrCreate(ctx, eoa, skipDerive)
	if err != nil {
		return p.fail(gen, PhaseGettingCredentials, err)
	}

	if p.metrics != nil {
		p.metrics.CredentialFetch.WithLabelValues("issued").Inc()
	}
	return p.apply(gen, func() { p.credential = c })
}

// DeploySafe deploys the smart-contract wallet without running the rest of
// the flow. It exists for the explicit deploy action in the UI; Run picks up
// the already-deployed wallet afterwards.
func (p *Provisioner) DeploySafe(ctx context.Context) error {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return fmt.Errorf("provision: no wallet session")
	}
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("provision: run already in progress")
	}
	p.running = true
	gen := p.generation
	session := *p.session
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	safe, err := safewallet.Derive(session.EOA, p.factory)
	if err != nil {
		return p.fail(gen, PhaseDeployingSafe, &FlowError{
			Kind:  KindConfig,
			Phase: PhaseDeployingSafe,
			Err:   fmt.Errorf("derive smart wallet: %w", err),
		})
	}
	if err := p.apply(gen, func() { p.safeAddress = safe }); err != nil {
		if errors.Is(err, errStaleRun) {
			return nil
		}
		return err
	}

	err = p.ensureDeployed(ctx, gen, session, safe)
	if errors.Is(err, errStaleRun) {
		return nil
	}
	return err
}

// setPhase transitions to phase and notifies observers. A stale generation
// returns errStaleRun without mutating anything.
func (p *Provisioner) setPhase(gen uint64, phase Phase) error {
	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return errStaleRun
	}
	p.phase = phase
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PhaseTransitions.WithLabelValues(string(phase)).Inc()
	}
	p.log.Debug("phase transition", zap.String("phase", string(phase)))
	p.emit(snap)
	return nil
}

// apply performs a state mutation under the generation guard.
func (p *Provisioner) apply(gen uint64, fn func()) error {
	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return errStaleRun
	}
	fn()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.emit(snap)
	return nil
}

// fail classifies err, records it, and moves to the error phase. When the
// generation is stale the error is swallowed: the failed run no longer owns
// the state.
func (p *Provisioner) fail(gen uint64, phase Phase, err error) error {
	fe := classify(phase, err)

	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return errStaleRun
	}
	p.lastErr = fe
	p.phase = PhaseError
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.log.Error("provisioning failed",
		zap.String("phase", string(phase)),
		zap.String("kind", string(fe.Kind)),
		zap.Bool("recoverable", fe.Kind.Recoverable()),
		zap.Error(fe.Err))
	p.emit(snap)
	return fe
}

func (p *Provisioner) emit(snap Snapshot) {
	if p.onChange != nil {
		p.onChange(snap)
	}
}

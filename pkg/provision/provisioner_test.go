package provision

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BadGenius22/rekon/pkg/chain"
	"github.com/BadGenius22/rekon/pkg/clob"
	"github.com/BadGenius22/rekon/pkg/creds"
	"github.com/BadGenius22/rekon/pkg/eth"
	"github.com/BadGenius22/rekon/pkg/relay"
	"github.com/BadGenius22/rekon/pkg/safewallet"
)

var testEOA = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type fakeSigner struct{}

func (fakeSigner) Address() common.Address { return testEOA }
func (fakeSigner) SignClobAuth(chainID int64, timestamp string, nonce *big.Int) (string, error) {
	return "0xauth", nil
}
func (fakeSigner) SignOrder(chainID int64, exchange common.Address, order *eth.OrderData) (string, error) {
	return "0xorder", nil
}

// fakeChain flips to deployed/approved as the fake relayer executes, so
// post-submit verification reads see the new state.
type fakeChain struct {
	mu        sync.Mutex
	deployed  bool
	approved  bool
	readFails bool

	deploymentReads int
	approvalReads   int
}

func (f *fakeChain) WalletDeployment(ctx context.Context, addr common.Address) (chain.DeploymentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploymentReads++
	if f.readFails {
		return chain.Unknown, errors.New("rpc down")
	}
	if f.deployed {
		return chain.Deployed, nil
	}
	return chain.NotDeployed, nil
}

func (f *fakeChain) ApprovalState(ctx context.Context, owner common.Address) (chain.ApprovalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvalReads++
	if f.readFails {
		return chain.ApprovalState{Missing: []string{"allowance:read-failed"}}, errors.New("rpc down")
	}
	if f.approved {
		return chain.ApprovalState{Satisfied: true}, nil
	}
	return chain.ApprovalState{Missing: []string{"allowance:0x01"}}, nil
}

func (f *fakeChain) Targets() chain.ApprovalTargets {
	return chain.DefaultApprovalTargets()
}

type fakeRelay struct {
	chain *fakeChain

	deployErr       error
	executeErr      error
	deployedAddress common.Address
	skipStateFlip   bool

	deploys  int
	executes int
}

func (f *fakeRelay) Deploy(ctx context.Context, eoa common.Address) (*relay.Settlement, error) {
	f.deploys++
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	if !f.skipStateFlip {
		f.chain.mu.Lock()
		f.chain.deployed = true
		f.chain.mu.Unlock()
	}
	return &relay.Settlement{
		TransactionID:   "txn-deploy",
		State:           relay.StateConfirmed,
		TxHash:          "0xabc",
		DeployedAddress: f.deployedAddress,
	}, nil
}

func (f *fakeRelay) Execute(ctx context.Context, txns []relay.Transaction, label string) (*relay.Settlement, error) {
	f.executes++
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	if !f.skipStateFlip {
		f.chain.mu.Lock()
		f.chain.approved = true
		f.chain.mu.Unlock()
	}
	return &relay.Settlement{TransactionID: "txn-batch", State: relay.StateConfirmed}, nil
}

type fakeBroker struct {
	cached *creds.Credentials
	issued *creds.Credentials
	err    error

	cacheChecks    int
	getOrCreates   int
	lastSkipDerive bool
}

func (f *fakeBroker) Cached(eoa string) (*creds.Credentials, bool) {
	f.cacheChecks++
	return f.cached, f.cached != nil
}

func (f *fakeBroker) GetOrCreate(ctx context.Context, eoa string, skipDerive bool) (*creds.Credentials, error) {
	f.getOrCreates++
	f.lastSkipDerive = skipDerive
	if f.err != nil {
		return nil, f.err
	}
	return f.issued, nil
}

type harness struct {
	chain  *fakeChain
	relay  *fakeRelay
	broker *fakeBroker
	prov   *Provisioner

	mu     sync.Mutex
	phases []Phase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chain:  &fakeChain{},
		broker: &fakeBroker{issued: &creds.Credentials{APIKey: "issued"}},
	}
	h.relay = &fakeRelay{chain: h.chain}

	factory := func(safe common.Address, credential *creds.Credentials, signer clob.Signer) *clob.Client {
		return clob.NewClient(signer, clob.WithFunder(safe.Hex()), clob.WithSignatureType(clob.SignatureTypeGnosisSafe))
	}

	h.prov = NewProvisioner(h.chain, h.relay, h.broker, factory,
		WithMetrics(NewMetrics()),
		WithOnChange(func(snap Snapshot) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if len(h.phases) == 0 || h.phases[len(h.phases)-1] != snap.Phase {
				h.phases = append(h.phases, snap.Phase)
			}
		}),
	)
	return h
}

func (h *harness) phaseList() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Phase, len(h.phases))
	copy(out, h.phases)
	return out
}

func (h *harness) connect() {
	h.prov.Connect(Session{EOA: testEOA, Signer: fakeSigner{}})
}

func expectedSafe(t *testing.T) common.Address {
	t.Helper()
	safe, err := safewallet.Derive(testEOA, safewallet.DefaultFactoryConfig())
	if err != nil {
		t.Fatal(err)
	}
	return safe
}

func assertPhases(t *testing.T, got, want []Phase) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Phase sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Phase sequence %v, want %v", got, want)
		}
	}
}

func TestRunFirstTimeUser(t *testing.T) {
	h := newHarness(t)
	h.connect()

	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap := h.prov.Snapshot()
	if !snap.IsReady || snap.Phase != PhaseReady {
		t.Errorf("Not ready: %+v", snap)
	}
	if snap.SafeAddress != expectedSafe(t).Hex() {
		t.Errorf("Wrong safe address: %s", snap.SafeAddress)
	}
	if !snap.IsDeployed || !snap.ApprovalsConfirmed || !snap.HasCredentials {
		t.Errorf("Incomplete state: %+v", snap)
	}

	if h.relay.deploys != 1 || h.relay.executes != 1 {
		t.Errorf("Expected one deploy and one batch, got %d/%d", h.relay.deploys, h.relay.executes)
	}
	if h.broker.getOrCreates != 1 {
		t.Errorf("Expected one credential resolution, got %d", h.broker.getOrCreates)
	}
	if !h.broker.lastSkipDerive {
		t.Error("A wallet deployed this run cannot have prior credentials; derive should be skipped")
	}

	assertPhases(t, h.phaseList(), []Phase{
		PhaseDisconnected, // Connect reset
		PhaseInitializing,
		PhaseCheckingSafe,
		PhaseDeployingSafe,
		PhaseSettingApprovals,
		PhaseGettingCredentials,
		PhaseReady,
	})

	if _, err := h.prov.TradingClient(); err != nil {
		t.Errorf("TradingClient after ready: %v", err)
	}
}

func TestRunReturningUser(t *testing.T) {
	h := newHarness(t)
	h.chain.deployed = true
	h.chain.approved = true
	h.broker.cached = &creds.Credentials{APIKey: "cached"}
	h.connect()

	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if h.relay.deploys != 0 || h.relay.executes != 0 {
		t.Errorf("Returning user should make no relay calls, got %d/%d", h.relay.deploys, h.relay.executes)
	}
	if h.broker.getOrCreates != 0 {
		t.Error("Cached credentials should skip issuance")
	}

	// No work performed means no work phases shown.
	assertPhases(t, h.phaseList(), []Phase{
		PhaseDisconnected,
		PhaseInitializing,
		PhaseCheckingSafe,
		PhaseReady,
	})
}

func TestRunDeployedButUnapproved(t *testing.T) {
	h := newHarness(t)
	h.chain.deployed = true
	h.broker.cached = &creds.Credentials{APIKey: "cached"}
	h.connect()

	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if h.relay.deploys != 0 {
		t.Error("Deployed wallet should not be redeployed")
	}
	if h.relay.executes != 1 {
		t.Errorf("Expected one approval batch, got %d", h.relay.executes)
	}

	assertPhases(t, h.phaseList(), []Phase{
		PhaseDisconnected,
		PhaseInitializing,
		PhaseCheckingSafe,
		PhaseSettingApprovals,
		PhaseReady,
	})
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.connect()

	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if h.relay.deploys != 1 || h.relay.executes != 1 {
		t.Errorf("Second run must repeat no relay work, got %d/%d", h.relay.deploys, h.relay.executes)
	}
}

func TestRunWithoutSession(t *testing.T) {
	h := newHarness(t)
	if err := h.prov.Run(context.Background()); err == nil {
		t.Error("Run without a session should fail")
	}
}

func TestUnknownDeploymentReadTriggersDeploy(t *testing.T) {
	h := newHarness(t)
	h.chain.readFails = true
	h.broker.cached = &creds.Credentials{APIKey: "cached"}
	h.connect()

	// Post-deploy verification also fails while reads are down, so the
	// run errors, but the deploy attempt must have happened.
	h.prov.Run(context.Background())

	if h.relay.deploys == 0 {
		t.Error("Unreadable deployment state should still attempt deploy")
	}
}

func TestDeployAddressMismatchIsFatal(t *testing.T) {
	h := newHarness(t)
	h.relay.deployedAddress = common.HexToAddress("0x6000000000000000000000000000000000000006")
	h.connect()

	err := h.prov.Run(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Kind != KindVerification {
		t.Errorf("Wrong kind: %s", fe.Kind)
	}
	if fe.Kind.Recoverable() {
		t.Error("An address mismatch must not be retried automatically")
	}

	snap := h.prov.Snapshot()
	if snap.Phase != PhaseError || snap.ErrorKind != KindVerification {
		t.Errorf("Wrong error snapshot: %+v", snap)
	}
}

func TestDeploySettledButNoCode(t *testing.T) {
	h := newHarness(t)
	h.relay.skipStateFlip = true
	h.connect()

	err := h.prov.Run(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Kind != KindVerification {
		t.Errorf("Wrong kind: %s", fe.Kind)
	}
}

func TestRelayUnauthorizedIsConfigError(t *testing.T) {
	h := newHarness(t)
	h.relay.deployErr = relay.ErrUnauthorized
	h.connect()

	err := h.prov.Run(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Kind != KindConfig {
		t.Errorf("Wrong kind: %s", fe.Kind)
	}
	if fe.Kind.Recoverable() {
		t.Error("A bad relay credential cannot be fixed by retrying")
	}
	if h.relay.executes != 0 || h.broker.getOrCreates != 0 {
		t.Error("A failed deploy must stop the flow before approvals and credentials")
	}
}

func TestDeployFailedTerminalState(t *testing.T) {
	h := newHarness(t)
	h.relay.deployErr = &relay.TaskError{TransactionID: "txn-deploy", Label: "deploy"}
	h.connect()

	err := h.prov.Run(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Kind != KindTransient {
		t.Errorf("Wrong kind: %s", fe.Kind)
	}
	if fe.Phase != PhaseDeployingSafe {
		t.Errorf("Wrong phase: %s", fe.Phase)
	}
	if h.relay.executes != 0 || h.broker.getOrCreates != 0 {
		t.Error("A failed deploy must stop the flow before approvals and credentials")
	}

	snap := h.prov.Snapshot()
	if snap.Phase != PhaseError || snap.Error == "" {
		t.Errorf("Wrong error snapshot: %+v", snap)
	}
}

func TestDeclinedSignatureIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.chain.deployed = true
	h.chain.approved = true
	h.broker.err = creds.ErrSignatureDeclined
	h.connect()

	err := h.prov.Run(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Kind != KindUserDeclined {
		t.Errorf("Wrong kind: %s", fe.Kind)
	}
	if !fe.Kind.Recoverable() {
		t.Error("A declined signature should invite a retry")
	}
	if fe.Phase != PhaseGettingCredentials {
		t.Errorf("Wrong phase: %s", fe.Phase)
	}
}

func TestApprovalBatchFailure(t *testing.T) {
	h := newHarness(t)
	h.chain.deployed = true
	h.relay.executeErr = &relay.TaskError{TransactionID: "txn-batch", Label: "approvals"}
	h.connect()

	err := h.prov.Run(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Kind != KindApproval {
		t.Errorf("Wrong kind: %s", fe.Kind)
	}

	// The failure clears and the batch is re-attempted on the next run.
	h.relay.executeErr = nil
	h.broker.cached = &creds.Credentials{APIKey: "cached"}
	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Recovery run failed: %v", err)
	}
	if h.relay.executes != 2 {
		t.Errorf("Expected a second batch attempt, got %d", h.relay.executes)
	}
}

func TestFailedRunKeepsCompletedSteps(t *testing.T) {
	h := newHarness(t)
	h.broker.err = &creds.IssuanceError{Err: errors.New("exchange 500")}
	h.connect()

	h.prov.Run(context.Background())

	snap := h.prov.Snapshot()
	if !snap.IsDeployed || !snap.ApprovalsConfirmed {
		t.Errorf("Deploy and approvals succeeded before the failure: %+v", snap)
	}
	if snap.ErrorKind != KindCredential {
		t.Errorf("Wrong error kind: %s", snap.ErrorKind)
	}

	// Recovery run resumes at the credential step.
	h.broker.err = nil
	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Recovery run failed: %v", err)
	}
	if h.relay.deploys != 1 || h.relay.executes != 1 {
		t.Errorf("Recovery repeated completed work: %d/%d", h.relay.deploys, h.relay.executes)
	}
}

func TestSkipDeriveConsumedOnce(t *testing.T) {
	h := newHarness(t)
	h.broker.err = &creds.IssuanceError{Err: errors.New("exchange 500")}
	h.connect()

	h.prov.Run(context.Background())
	if !h.broker.lastSkipDerive {
		t.Fatal("First attempt after deploy should skip derive")
	}

	h.broker.err = nil
	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if h.broker.lastSkipDerive {
		t.Error("skipDerive applies only to the run that deployed")
	}
}

func TestDisconnectDiscardsStaleRun(t *testing.T) {
	h := newHarness(t)
	h.connect()

	deployStarted := make(chan struct{})
	release := make(chan struct{})
	blocking := &blockingRelay{inner: h.relay, started: deployStarted, release: release}
	h.prov.relayer = blocking

	done := make(chan error, 1)
	go func() { done <- h.prov.Run(context.Background()) }()

	<-deployStarted
	h.prov.Disconnect()
	close(release)

	if err := <-done; err != nil {
		t.Errorf("Superseded run should discard silently, got %v", err)
	}

	snap := h.prov.Snapshot()
	if snap.Phase != PhaseDisconnected {
		t.Errorf("Stale run leaked state: %+v", snap)
	}
	if snap.IsDeployed || snap.SafeAddress != "" {
		t.Errorf("Stale run leaked state: %+v", snap)
	}
}

type blockingRelay struct {
	inner   Relayer
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRelay) Deploy(ctx context.Context, eoa common.Address) (*relay.Settlement, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.inner.Deploy(ctx, eoa)
}

func (b *blockingRelay) Execute(ctx context.Context, txns []relay.Transaction, label string) (*relay.Settlement, error) {
	return b.inner.Execute(ctx, txns, label)
}

func TestDeploySafeOnly(t *testing.T) {
	h := newHarness(t)
	h.connect()

	if err := h.prov.DeploySafe(context.Background()); err != nil {
		t.Fatalf("DeploySafe failed: %v", err)
	}

	snap := h.prov.Snapshot()
	if !snap.IsDeployed {
		t.Error("DeploySafe should mark the wallet deployed")
	}
	if snap.IsReady {
		t.Error("DeploySafe alone must not reach ready")
	}
	if h.relay.executes != 0 || h.broker.getOrCreates != 0 {
		t.Error("DeploySafe must not run approvals or credentials")
	}

	// The follow-up run completes the flow without redeploying.
	if err := h.prov.Run(context.Background()); err != nil {
		t.Fatalf("Run after DeploySafe failed: %v", err)
	}
	if h.relay.deploys != 1 {
		t.Errorf("Run after DeploySafe redeployed: %d", h.relay.deploys)
	}
	if !h.broker.lastSkipDerive {
		t.Error("Deploy earlier in this session should still skip derive")
	}
}

func TestTradingClientBeforeReady(t *testing.T) {
	h := newHarness(t)
	h.connect()
	if _, err := h.prov.TradingClient(); err == nil {
		t.Error("TradingClient before ready should fail")
	}
}

func TestApprovalBatchContents(t *testing.T) {
	targets := chain.DefaultApprovalTargets()
	txns := approvalBatch(targets)

	if want := 2 * len(targets.Spenders); len(txns) != want {
		t.Fatalf("Expected %d calls, got %d", want, len(txns))
	}
	for i, txn := range txns {
		if txn.Value != "0" {
			t.Errorf("Call %d carries value %q", i, txn.Value)
		}
		if txn.Data == "" || txn.Data == "0x" {
			t.Errorf("Call %d has no calldata", i)
		}
	}

	// Alternating collateral approve / collection operator approval.
	for i := 0; i < len(txns); i += 2 {
		if txns[i].To != targets.Collateral {
			t.Errorf("Call %d should target the collateral token", i)
		}
		if txns[i+1].To != targets.Collection {
			t.Errorf("Call %d should target the collection", i+1)
		}
	}
}

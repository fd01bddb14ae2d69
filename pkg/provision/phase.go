// Package provision sequences wallet connection into a ready trading
// identity: smart-wallet derivation, gasless deployment, exchange approvals,
// credential issuance, and trading-client assembly.
package provision

// Phase is the orchestrator's current position in the provisioning flow.
type Phase string

const (
	PhaseDisconnected       Phase = "disconnected"
	PhaseInitializing       Phase = "initializing"
	PhaseCheckingSafe       Phase = "checking_safe"
	PhaseDeployingSafe      Phase = "deploying_safe"
	PhaseSettingApprovals   Phase = "setting_approvals"
	PhaseGettingCredentials Phase = "getting_credentials"
	PhaseReady              Phase = "ready"
	PhaseError              Phase = "error"
)

// Snapshot is the observable provisioning record exposed to the rest of the
// application. Nothing outside this package mutates it.
type Snapshot struct {
	Phase              Phase  `json:"phase"`
	SafeAddress        string `json:"safe_address,omitempty"`
	IsDeployed         bool   `json:"is_deployed"`
	ApprovalsConfirmed bool   `json:"approvals_confirmed"`
	HasCredentials     bool   `json:"has_credentials"`
	IsReady            bool   `json:"is_ready"`
	Error              string `json:"error,omitempty"`
	ErrorKind          Kind   `json:"error_kind,omitempty"`
	ErrorPhase         Phase  `json:"error_phase,omitempty"`
}

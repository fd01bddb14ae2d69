package provision

import (
	"errors"
	"fmt"

	"github.com/BadGenius22/rekon/pkg/creds"
	"github.com/BadGenius22/rekon/pkg/relay"
)

// Kind classifies a provisioning failure so the UI can present it correctly:
// "contact support" for configuration problems, "please sign to continue" for
// declined signatures, "try again" for transient infrastructure failures.
type Kind string

const (
	KindConfig       Kind = "config"
	KindUserDeclined Kind = "user_declined"
	KindTransient    Kind = "transient"
	KindVerification Kind = "verification"
	KindApproval     Kind = "approval"
	KindCredential   Kind = "credential"
)

// Recoverable reports whether re-entering the flow is expected to help
// without operator intervention.
func (k Kind) Recoverable() bool {
	return k == KindUserDeclined || k == KindTransient
}

// FlowError is a provisioning failure with its classification and the phase
// it originated from.
type FlowError struct {
	Kind  Kind
	Phase Phase
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("provisioning failed at %s (%s): %v", e.Phase, e.Kind, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// classify wraps err with the taxonomy kind it maps to. An already
// classified error is returned unchanged.
func classify(phase Phase, err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}

	kind := KindTransient
	switch {
	case errors.Is(err, relay.ErrUnauthorized):
		kind = KindConfig
	case errors.Is(err, creds.ErrSignatureDeclined):
		kind = KindUserDeclined
	default:
		var issuance *creds.IssuanceError
		if errors.As(err, &issuance) {
			kind = KindCredential
		}
	}

	return &FlowError{Kind: kind, Phase: phase, Err: err}
}

// errStaleRun marks a step whose session generation no longer matches; its
// result is discarded silently.
var errStaleRun = errors.New("provision: stale run superseded by reconnect")

package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

// FakeProvider is an in-memory Provider for tests. Calls are recorded per
// idempotency key so replay behavior can be asserted.
type FakeProvider struct {
	mu       sync.Mutex
	seq      int
	holds    map[string]enums.EscrowHoldStatus
	byKey    map[string]string
	Calls    []string
	FailNext map[string]error
}

// NewFakeProvider builds an empty fake custodian.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		holds:    make(map[string]enums.EscrowHoldStatus),
		byKey:    make(map[string]string),
		FailNext: make(map[string]error),
	}
}

// FailWith arms a one-shot error for the named operation.
func (f *FakeProvider) FailWith(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailNext[operation] = err
}

func (f *FakeProvider) takeFailure(operation string) error {
	if err, ok := f.FailNext[operation]; ok {
		delete(f.FailNext, operation)
		return err
	}
	return nil
}

func (f *FakeProvider) Hold(ctx context.Context, req HoldRequest) (*HoldResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "hold:"+req.IdempotencyKey)
	if err := f.takeFailure("hold"); err != nil {
		return nil, err
	}
	if ref, ok := f.byKey[req.IdempotencyKey]; ok {
		return &HoldResult{Reference: ref, Status: f.holds[ref]}, nil
	}
	f.seq++
	ref := fmt.Sprintf("hold-%d", f.seq)
	f.holds[ref] = enums.EscrowHoldStatusHeld
	f.byKey[req.IdempotencyKey] = ref
	return &HoldResult{Reference: ref, Status: enums.EscrowHoldStatusHeld}, nil
}

func (f *FakeProvider) Release(ctx context.Context, req ReleaseRequest) (*HoldResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "release:"+req.IdempotencyKey)
	if err := f.takeFailure("release"); err != nil {
		return nil, err
	}
	status, ok := f.holds[req.Reference]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "unknown hold reference")
	}
	if status == enums.EscrowHoldStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "hold already refunded")
	}
	f.holds[req.Reference] = enums.EscrowHoldStatusReleased
	return &HoldResult{Reference: req.Reference, Status: enums.EscrowHoldStatusReleased}, nil
}

func (f *FakeProvider) Refund(ctx context.Context, req RefundRequest) (*HoldResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "refund:"+req.IdempotencyKey)
	if err := f.takeFailure("refund"); err != nil {
		return nil, err
	}
	status, ok := f.holds[req.Reference]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "unknown hold reference")
	}
	if status == enums.EscrowHoldStatusReleased {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "hold already released")
	}
	f.holds[req.Reference] = enums.EscrowHoldStatusRefunded
	return &HoldResult{Reference: req.Reference, Status: enums.EscrowHoldStatusRefunded}, nil
}

func (f *FakeProvider) StatusOf(ctx context.Context, reference string) (enums.EscrowHoldStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.holds[reference]
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "unknown hold reference")
	}
	return status, nil
}

// SetStatus forces a hold into the given state.
func (f *FakeProvider) SetStatus(reference string, status enums.EscrowHoldStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds[reference] = status
}

// CallCount returns how many provider calls carried the prefix.
func (f *FakeProvider) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.Calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			count++
		}
	}
	return count
}

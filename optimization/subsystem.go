package optimization

import (
	"context"
	"fmt"

	"github.com/tzgateway/gateway/tzerr"
)

// Subsystem dispatches launch/poll calls to the Launcher/Poller registered
// for a job's provider and tracks job state in Store (§4.J).
type Subsystem struct {
	Launchers map[ProviderKind]Launcher
	Pollers   map[ProviderKind]Poller
	Store     JobStore
}

// Launch starts req's job against its provider's Launcher and persists a
// JobRow so a later Poll knows which Poller to use.
func (s *Subsystem) Launch(ctx context.Context, req LaunchRequest) (JobHandle, error) {
	launcher, ok := s.Launchers[req.Provider]
	if !ok {
		return "", tzerr.New(tzerr.KindUnsupportedOptimizer, fmt.Sprintf("no optimizer launcher registered for provider %q", req.Provider), nil, map[string]any{"provider": req.Provider})
	}

	handle, dashboardURL, err := launcher.Launch(ctx, req)
	if err != nil {
		return "", err
	}

	if err := s.Store.Put(ctx, JobRow{Handle: handle, Provider: req.Provider, DashboardURL: dashboardURL, Status: StatusPending}); err != nil {
		return "", err
	}
	return handle, nil
}

// Poll checks handle's current status, updating its persisted Status on a
// transition to a terminal state.
func (s *Subsystem) Poll(ctx context.Context, handle JobHandle) (Status, error) {
	row, err := s.Store.Get(ctx, handle)
	if err != nil {
		return Status{}, err
	}
	if row.Status != StatusPending {
		return Status{Kind: row.Status}, nil
	}

	poller, ok := s.Pollers[row.Provider]
	if !ok {
		return Status{}, tzerr.New(tzerr.KindUnsupportedOptimizer, fmt.Sprintf("no optimizer poller registered for provider %q", row.Provider), nil, map[string]any{"provider": row.Provider})
	}

	status, err := poller.Poll(ctx, handle)
	if err != nil {
		return Status{}, err
	}
	if status.Kind != StatusPending {
		row.Status = status.Kind
		if err := s.Store.Put(ctx, row); err != nil {
			return Status{}, err
		}
	}
	return status, nil
}

// DashboardURL returns the provider dashboard link recorded at launch time.
func (s *Subsystem) DashboardURL(ctx context.Context, handle JobHandle) (string, error) {
	row, err := s.Store.Get(ctx, handle)
	if err != nil {
		return "", err
	}
	return row.DashboardURL, nil
}

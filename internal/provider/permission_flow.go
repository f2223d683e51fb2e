package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/pkg/metrics"
)

// PermissionFlow decides whether a requesting application may use the user's identity.
// Only explicit grant and deny decisions are ever persisted.
type PermissionFlow struct {
	permissions PermissionStore
	calls       bounded
	log         *zap.Logger
}

// NewPermissionFlow constructs a PermissionFlow.
func NewPermissionFlow(permissions PermissionStore, timeout time.Duration, log *zap.Logger) *PermissionFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &PermissionFlow{permissions: permissions, calls: bounded{timeout: timeout}, log: log}
}

// Check returns the stored decision for skapp without user interaction.
func (f *PermissionFlow) Check(ctx context.Context, info ConnectionInfo, skapp SkappInfo) (Permission, error) {
	var permission Permission
	err := f.calls.run(ctx, "permission.get", func(ctx context.Context) error {
		var err error
		permission, err = f.permissions.Get(ctx, info, skapp.Domain)
		return err
	})
	if err != nil {
		return PermissionUnknown, err
	}
	metrics.PermissionDecisions.WithLabelValues("store", permission.String()).Inc()
	f.log.Debug("checked stored permission", zap.String("domain", skapp.Domain), zap.Stringer("permission", permission))
	return permission, nil
}

// Resolve returns the decision for skapp, asking the user through the permission popup
// when none is stored. A popup closed without a decision stores nothing and fails with
// ErrUserCancelled.
func (f *PermissionFlow) Resolve(ctx context.Context, info ConnectionInfo, skapp SkappInfo, popups PopupChannel) (bool, error) {
	permission, err := f.Check(ctx, info, skapp)
	if err != nil {
		return false, err
	}
	switch permission {
	case PermissionGranted:
		return true, nil
	case PermissionDenied:
		return false, nil
	}

	permission, err = f.ask(ctx, info, skapp, popups)
	if err != nil {
		return false, err
	}
	err = f.calls.run(ctx, "permission.set", func(ctx context.Context) error {
		return f.permissions.Set(ctx, info, skapp.Domain, permission)
	})
	if err != nil {
		return false, err
	}
	f.log.Info("stored permission decision", zap.String("domain", skapp.Domain), zap.Stringer("permission", permission))
	return permission == PermissionGranted, nil
}

func (f *PermissionFlow) ask(ctx context.Context, info ConnectionInfo, skapp SkappInfo, popups PopupChannel) (Permission, error) {
	if popups == nil {
		return PermissionUnknown, popup.ErrPopupBlocked
	}
	pending, err := popups.Open(ctx, popup.KindPermission, map[string]string{
		popup.ParamSkappName:     skapp.Name,
		popup.ParamSkappDomain:   skapp.Domain,
		popup.ParamLoginIdentity: info.Identity,
	})
	if err != nil {
		return PermissionUnknown, err
	}
	defer pending.Close()

	outcome, err := pending.Await(ctx)
	if err != nil {
		return PermissionUnknown, err
	}

	var permission Permission
	switch {
	case outcome.Status == popup.StatusClosed:
		metrics.PermissionDecisions.WithLabelValues("popup", "abandoned").Inc()
		return PermissionUnknown, errPermissionUndecided
	case outcome.Status == popup.StatusError:
		return PermissionUnknown, outcome.Err
	case outcome.Decision == popup.DecisionGrant:
		permission = PermissionGranted
	case outcome.Decision == popup.DecisionDeny:
		permission = PermissionDenied
	default:
		return PermissionUnknown, ErrMalformedResponse
	}
	metrics.PermissionDecisions.WithLabelValues("popup", permission.String()).Inc()
	return permission, nil
}

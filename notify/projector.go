package notify

import (
	"context"
	"fmt"

	"github.com/goliatone/go-hmrc/core"
)

// Projector turns dispatched outbox events into user notifications so
// auth, backup, and health activity surfaces in the UI without the
// emitting services knowing about the notify package.
type Projector struct {
	service       *Service
	broadcastUser string
}

type ProjectorOption func(*Projector)

// WithBroadcastUser sets the recipient for system-wide events that
// carry no user, such as health degradation.
func WithBroadcastUser(userID string) ProjectorOption {
	return func(p *Projector) {
		if userID != "" {
			p.broadcastUser = userID
		}
	}
}

func NewProjector(service *Service, options ...ProjectorOption) (*Projector, error) {
	if service == nil {
		return nil, fmt.Errorf("notify: projector requires a service")
	}
	projector := &Projector{service: service, broadcastUser: "system"}
	for _, option := range options {
		if option != nil {
			option(projector)
		}
	}
	return projector, nil
}

func (p *Projector) Handle(ctx context.Context, event core.Event) error {
	if p == nil || p.service == nil {
		return fmt.Errorf("notify: projector is not configured")
	}
	userID := event.UserID
	if userID == "" {
		switch event.Name {
		case core.EventServiceDegraded, core.EventServiceRecovered:
			userID = p.broadcastUser
		default:
			return nil
		}
	}

	switch event.Name {
	case core.EventAuthDisconnected:
		_, err := p.service.ShowInfo(ctx, userID,
			"HMRC disconnected",
			"Your HMRC connection has been removed. Reconnect before your next submission.")
		return err
	case core.EventSuspiciousActivity:
		_, err := p.service.ShowWarning(ctx, userID,
			"Unusual sign-in activity",
			"Repeated HMRC authentication failures were detected on your account.",
			[]Action{{ID: "reauthorize", Label: "Reconnect HMRC", Kind: string(core.RecoveryReauthorize)}})
		return err
	case core.EventBackupSynced:
		_, err := p.service.ShowSuccess(ctx, userID,
			"Submission delivered",
			"A queued submission was delivered to HMRC."+referenceSuffix(event))
		return err
	case core.EventBackupConflict:
		_, err := p.service.ShowWarning(ctx, userID,
			"Submission conflict",
			"HMRC already holds a submission matching one of your queued drafts.",
			[]Action{{ID: "review", Label: "Review submission", Kind: string(core.RecoveryValidateRequest)}})
		return err
	case core.EventServiceDegraded:
		if event.Payload["critical"] != true {
			return nil
		}
		_, err := p.service.ShowWarning(ctx, userID,
			"Limited service",
			"Part of the HMRC integration is unavailable. Your work is saved locally and will sync when service is restored.",
			nil)
		return err
	case core.EventServiceRecovered:
		_, err := p.service.ShowInfo(ctx, userID,
			"Service restored",
			"The HMRC integration is back to normal operation.")
		return err
	default:
		return nil
	}
}

func referenceSuffix(event core.Event) string {
	reference, _ := event.Payload["reference"].(string)
	if reference == "" {
		return ""
	}
	return fmt.Sprintf(" Reference: %s.", reference)
}

var _ core.EventProjector = (*Projector)(nil)

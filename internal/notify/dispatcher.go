package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/audit"
	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// Dispatcher finds repositories without recent backups and notifies their
// owners, one mail per principal.
type Dispatcher struct {
	cfg      config.NotificationConfig
	service  config.ServiceConfig
	stores   *ledger.Stores
	trail    *audit.Trail
	notifier Notifier
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg *config.Config, stores *ledger.Stores, trail *audit.Trail, notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg.Notification,
		service:  cfg.Service,
		stores:   stores,
		trail:    trail,
		notifier: notifier,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// DispatchStale notifies every principal owning stale repositories. A
// failed delivery is recorded and skipped; one unreachable mailbox must not
// silence the rest of the batch. Returns the number of mails sent.
func (d *Dispatcher) DispatchStale(ctx context.Context) (int, error) {
	window := time.Duration(d.cfg.StaleAfterDays) * 24 * time.Hour

	principals, err := d.stores.Principals.List(ctx)
	if err != nil {
		return 0, err
	}

	var sent int
	var failures []error
	for _, p := range principals {
		repos, err := d.stores.Repositories.ListByPrincipal(ctx, p.ID)
		if err != nil {
			return sent, err
		}
		stale, err := d.trail.StaleRepositories(ctx, repos, window)
		if err != nil {
			return sent, err
		}
		if len(stale) == 0 {
			continue
		}

		msg := Message{
			To:      p.Email,
			Subject: fmt.Sprintf("[%s] backups overdue for %s", d.service.Name, p.Name),
			Body:    d.composeBody(ctx, p, stale),
		}
		if err := d.notifier.Send(ctx, msg); err != nil {
			deliveryErr := &domain.NotificationDeliveryError{Recipient: p.Email, Err: err}
			d.logger.Error().Err(deliveryErr).Str("principal", p.Name).Msg("notification delivery failed")
			failures = append(failures, deliveryErr)
			continue
		}
		sent++

		names := make([]string, len(stale))
		for i, r := range stale {
			names[i] = r.Name
		}
		if err := d.trail.Principal(ctx, p.ID, domain.OpNotificationSent,
			"notified about stale repositories: "+strings.Join(names, ", ")); err != nil {
			return sent, err
		}
	}

	return sent, errors.Join(failures...)
}

func (d *Dispatcher) composeBody(ctx context.Context, p *domain.Principal, stale []*domain.Repository) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", p.Name)
	fmt.Fprintf(&b, "the following repositories on %s have not received a backup for more than %d days:\n\n",
		d.service.Name, d.cfg.StaleAfterDays)

	for _, r := range stale {
		last, err := d.trail.LastRepositoryEntry(ctx, r.ID, domain.OpServeModifySuccess)
		switch {
		case err != nil || last == nil:
			fmt.Fprintf(&b, "  %s: never backed up\n", r.Name)
		default:
			fmt.Fprintf(&b, "  %s: last backup %s\n", r.Name, last.CreatedAt.Format(time.RFC3339))
		}
	}

	fmt.Fprintf(&b, "\nQuestions? Contact %s.\n", d.service.AdminContact)
	return b.String()
}

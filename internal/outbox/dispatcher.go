package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge/appointment-service/internal/integrations"
	"github.com/carebridge/appointment-service/internal/metrics"
)

// Dispatcher drains the outbox: each run claims due records, renders the
// notification for the current appointment state and delivers it. Failures
// back off exponentially and dead-letter after MaxAttempts.
type Dispatcher struct {
	store       Store
	source      AppointmentSource
	sender      integrations.NotificationSender
	adminEmails []string
	maxAttempts int
	baseBackoff time.Duration
	batchSize   int
	log         zerolog.Logger
}

type DispatcherConfig struct {
	AdminEmails []string
	MaxAttempts int
	BaseBackoff time.Duration
	BatchSize   int
}

func NewDispatcher(store Store, source AppointmentSource, sender integrations.NotificationSender, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Dispatcher{
		store:       store,
		source:      source,
		sender:      sender,
		adminEmails: cfg.AdminEmails,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		batchSize:   cfg.BatchSize,
		log:         log,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("outbox dispatcher stopping")
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := d.RunOnce(runCtx); err != nil {
		d.log.Error().Err(err).Msg("outbox run failed")
	}
}

// RunOnce processes one batch of due records.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	records, err := d.store.ClaimDue(ctx, time.Now(), d.batchSize)
	if err != nil {
		return fmt.Errorf("claim due records: %w", err)
	}

	for _, rec := range records {
		start := time.Now()
		err := d.deliver(ctx, rec)
		metrics.OutboxDispatchDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.SideEffectsTotal.WithLabelValues(rec.EffectType, "sent").Inc()
			if markErr := d.store.MarkSent(ctx, rec.ID); markErr != nil {
				d.log.Error().Err(markErr).Int64("record_id", rec.ID).Msg("mark sent failed")
			}
			continue
		}

		attempts := rec.Attempts + 1
		if attempts >= d.maxAttempts {
			metrics.SideEffectsTotal.WithLabelValues(rec.EffectType, "dead").Inc()
			d.log.Error().Err(err).
				Int64("record_id", rec.ID).
				Str("effect", rec.EffectType).
				Int("attempts", attempts).
				Msg("outbox record dead-lettered")
			if markErr := d.store.MarkDead(ctx, rec.ID, err.Error()); markErr != nil {
				d.log.Error().Err(markErr).Int64("record_id", rec.ID).Msg("mark dead failed")
			}
			continue
		}

		metrics.SideEffectsTotal.WithLabelValues(rec.EffectType, "retry").Inc()
		next := time.Now().Add(d.backoff(attempts))
		d.log.Warn().Err(err).
			Int64("record_id", rec.ID).
			Str("effect", rec.EffectType).
			Int("attempts", attempts).
			Time("next_attempt_at", next).
			Msg("outbox delivery failed, will retry")
		if markErr := d.store.MarkFailed(ctx, rec.ID, next, err.Error()); markErr != nil {
			d.log.Error().Err(markErr).Int64("record_id", rec.ID).Msg("mark failed failed")
		}
	}

	return nil
}

// backoff doubles per attempt, capped at ~30x base.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	backoff := d.baseBackoff
	for i := 1; i < attempts && backoff < 30*d.baseBackoff; i++ {
		backoff *= 2
	}
	if backoff > 30*d.baseBackoff {
		backoff = 30 * d.baseBackoff
	}
	return backoff
}

func (d *Dispatcher) deliver(ctx context.Context, rec Record) error {
	var payload Payload
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	notice, err := d.source.AppointmentNotice(ctx, rec.AppointmentID)
	if err != nil {
		return fmt.Errorf("load appointment notice: %w", err)
	}

	subject, body := renderMessage(rec.EffectType, payload, notice)

	switch rec.EffectType {
	case EffectNotifyPatient:
		if notice.PatientEmail == nil || *notice.PatientEmail == "" {
			d.log.Warn().Stringer("appointment_id", rec.AppointmentID).Msg("patient has no email, skipping notification")
			return nil
		}
		return d.sender.Send(ctx, integrations.ChannelEmail, *notice.PatientEmail, subject, body)

	case EffectNotifyClinician:
		if notice.ClinicianEmail == nil || *notice.ClinicianEmail == "" {
			d.log.Warn().Stringer("appointment_id", rec.AppointmentID).Msg("clinician has no email, skipping notification")
			return nil
		}
		return d.sender.Send(ctx, integrations.ChannelEmail, *notice.ClinicianEmail, subject, body)

	case EffectNotifyAdmins:
		var firstErr error
		for _, email := range d.adminEmails {
			if err := d.sender.Send(ctx, integrations.ChannelEmail, email, subject, body); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr

	default:
		// Unknown effect types are dropped, not retried forever.
		d.log.Error().Str("effect", rec.EffectType).Int64("record_id", rec.ID).Msg("unknown effect type")
		return nil
	}
}

func renderMessage(effectType string, payload Payload, n *Notice) (subject, body string) {
	when := n.Start.Format("Mon 2 Jan 2006 15:04")

	switch payload.Event {
	case "rescheduled":
		subject = fmt.Sprintf("Appointment rescheduled to %s", when)
	case "cancelled":
		subject = fmt.Sprintf("Appointment on %s cancelled", when)
	case "status_changed":
		subject = fmt.Sprintf("Appointment on %s is now %s", when, strings.ToLower(n.Status))
	default:
		subject = fmt.Sprintf("Appointment booked for %s", when)
	}

	var b strings.Builder
	switch effectType {
	case EffectNotifyClinician:
		fmt.Fprintf(&b, "Patient: %s\n", n.PatientName)
	default:
		fmt.Fprintf(&b, "Clinician: %s\n", n.ClinicianName)
	}
	fmt.Fprintf(&b, "Centre: %s\nWhen: %s - %s\nStatus: %s\n", n.CentreName, when, n.End.Format("15:04"), n.Status)
	if payload.Reason != nil && *payload.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", *payload.Reason)
	}
	if n.MeetingLink != nil && *n.MeetingLink != "" {
		fmt.Fprintf(&b, "Join online: %s\n", *n.MeetingLink)
	}
	return subject, b.String()
}

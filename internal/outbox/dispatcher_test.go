package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/appointment-service/internal/integrations"
)

type fakeStore struct {
	due []Record

	sent   []int64
	failed []failedMark
	dead   []deadMark
}

type failedMark struct {
	id            int64
	nextAttemptAt time.Time
	lastError     string
}

type deadMark struct {
	id        int64
	lastError string
}

func (s *fakeStore) ClaimDue(_ context.Context, _ time.Time, limit int) ([]Record, error) {
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	return s.due, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	s.failed = append(s.failed, failedMark{id: id, nextAttemptAt: nextAttemptAt, lastError: lastError})
	return nil
}

func (s *fakeStore) MarkDead(_ context.Context, id int64, lastError string) error {
	s.dead = append(s.dead, deadMark{id: id, lastError: lastError})
	return nil
}

type fakeSource struct {
	notice *Notice
	err    error
}

func (s *fakeSource) AppointmentNotice(_ context.Context, _ uuid.UUID) (*Notice, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.notice, nil
}

type sentMessage struct {
	channel   integrations.Channel
	recipient string
	subject   string
	body      string
}

type fakeSender struct {
	err  error
	sent []sentMessage
}

func (s *fakeSender) Send(_ context.Context, channel integrations.Channel, recipient, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{channel: channel, recipient: recipient, subject: subject, body: body})
	return nil
}

func strptr(s string) *string { return &s }

func testNotice() *Notice {
	return &Notice{
		AppointmentID:  uuid.New(),
		PatientName:    "Ada Byrne",
		PatientEmail:   strptr("ada@example.com"),
		ClinicianName:  "Dr Osei",
		ClinicianEmail: strptr("osei@clinic.example"),
		CentreName:     "Riverside",
		Start:          time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		End:            time.Date(2026, 9, 7, 9, 30, 0, 0, time.UTC),
		Status:         "BOOKED",
		Type:           "ONLINE",
		MeetingLink:    strptr("https://meet.example.com/room-1"),
	}
}

func record(id int64, effectType, event string) Record {
	payload, _ := json.Marshal(Payload{Event: event})
	return Record{ID: id, AppointmentID: uuid.New(), EffectType: effectType, Payload: payload, Status: StatusPending}
}

func TestRunOnce_DeliversAndMarksSent(t *testing.T) {
	store := &fakeStore{due: []Record{
		record(1, EffectNotifyPatient, "booked"),
		record(2, EffectNotifyClinician, "booked"),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(store, &fakeSource{notice: testNotice()}, sender, DispatcherConfig{}, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "ada@example.com", sender.sent[0].recipient)
	assert.Equal(t, "osei@clinic.example", sender.sent[1].recipient)
	assert.Equal(t, integrations.ChannelEmail, sender.sent[0].channel)
	assert.Contains(t, sender.sent[0].subject, "Appointment booked")
	assert.Contains(t, sender.sent[0].body, "https://meet.example.com/room-1")
	assert.Equal(t, []int64{1, 2}, store.sent)
	assert.Empty(t, store.failed)
}

func TestRunOnce_AdminFanOut(t *testing.T) {
	store := &fakeStore{due: []Record{record(1, EffectNotifyAdmins, "booked")}}
	sender := &fakeSender{}
	cfg := DispatcherConfig{AdminEmails: []string{"ops@clinic.example", "duty@clinic.example"}}
	d := NewDispatcher(store, &fakeSource{notice: testNotice()}, sender, cfg, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "ops@clinic.example", sender.sent[0].recipient)
	assert.Equal(t, "duty@clinic.example", sender.sent[1].recipient)
	assert.Equal(t, []int64{1}, store.sent)
}

func TestRunOnce_FailureSchedulesRetryWithBackoff(t *testing.T) {
	rec := record(7, EffectNotifyPatient, "booked")
	rec.Attempts = 2
	store := &fakeStore{due: []Record{rec}}
	sender := &fakeSender{err: errors.New("smtp unavailable")}
	cfg := DispatcherConfig{MaxAttempts: 5, BaseBackoff: 30 * time.Second}
	d := NewDispatcher(store, &fakeSource{notice: testNotice()}, sender, cfg, zerolog.Nop())

	before := time.Now()
	require.NoError(t, d.RunOnce(context.Background()))

	require.Len(t, store.failed, 1)
	assert.Equal(t, int64(7), store.failed[0].id)
	assert.Contains(t, store.failed[0].lastError, "smtp unavailable")
	// Attempt 3 backs off 2 doublings from the base: 120s.
	gap := store.failed[0].nextAttemptAt.Sub(before)
	assert.GreaterOrEqual(t, gap, 119*time.Second)
	assert.LessOrEqual(t, gap, 121*time.Second)
	assert.Empty(t, store.sent)
	assert.Empty(t, store.dead)
}

func TestRunOnce_DeadLettersAfterMaxAttempts(t *testing.T) {
	rec := record(9, EffectNotifyPatient, "booked")
	rec.Attempts = 4
	store := &fakeStore{due: []Record{rec}}
	sender := &fakeSender{err: errors.New("smtp unavailable")}
	cfg := DispatcherConfig{MaxAttempts: 5}
	d := NewDispatcher(store, &fakeSource{notice: testNotice()}, sender, cfg, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	require.Len(t, store.dead, 1)
	assert.Equal(t, int64(9), store.dead[0].id)
	assert.Contains(t, store.dead[0].lastError, "smtp unavailable")
	assert.Empty(t, store.failed)
}

func TestRunOnce_MissingEmailSkipsWithoutRetry(t *testing.T) {
	notice := testNotice()
	notice.PatientEmail = nil
	store := &fakeStore{due: []Record{record(3, EffectNotifyPatient, "booked")}}
	sender := &fakeSender{}
	d := NewDispatcher(store, &fakeSource{notice: notice}, sender, DispatcherConfig{}, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	assert.Empty(t, sender.sent)
	assert.Equal(t, []int64{3}, store.sent, "no-recipient records complete instead of retrying forever")
}

func TestRunOnce_UnknownEffectDropped(t *testing.T) {
	store := &fakeStore{due: []Record{record(4, "NOTIFY_FAX", "booked")}}
	sender := &fakeSender{}
	d := NewDispatcher(store, &fakeSource{notice: testNotice()}, sender, DispatcherConfig{}, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	assert.Empty(t, sender.sent)
	assert.Equal(t, []int64{4}, store.sent)
}

func TestRunOnce_SourceFailureRetries(t *testing.T) {
	store := &fakeStore{due: []Record{record(5, EffectNotifyPatient, "booked")}}
	d := NewDispatcher(store, &fakeSource{err: errors.New("db down")}, &fakeSender{}, DispatcherConfig{}, zerolog.Nop())

	require.NoError(t, d.RunOnce(context.Background()))

	require.Len(t, store.failed, 1)
	assert.Contains(t, store.failed[0].lastError, "db down")
}

func TestRenderMessage_SubjectsFollowEvent(t *testing.T) {
	n := testNotice()
	reason := "clinician unavailable"

	subject, _ := renderMessage(EffectNotifyPatient, Payload{Event: "booked"}, n)
	assert.Contains(t, subject, "Appointment booked")

	subject, body := renderMessage(EffectNotifyPatient, Payload{Event: "rescheduled", Reason: &reason}, n)
	assert.Contains(t, subject, "rescheduled")
	assert.Contains(t, body, "Reason: clinician unavailable")

	subject, _ = renderMessage(EffectNotifyPatient, Payload{Event: "cancelled"}, n)
	assert.Contains(t, subject, "cancelled")

	_, body = renderMessage(EffectNotifyClinician, Payload{Event: "booked"}, n)
	assert.Contains(t, body, "Patient: Ada Byrne")
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	d := NewDispatcher(&fakeStore{}, &fakeSource{}, &fakeSender{}, DispatcherConfig{BaseBackoff: time.Second}, zerolog.Nop())

	assert.Equal(t, time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, 30*time.Second, d.backoff(10), "capped at 30x base")
}

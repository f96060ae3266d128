package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPVideoProvider requests a meeting link from a configured webhook-style
// endpoint. An empty base URL means the integration is not configured.
type HTTPVideoProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPVideoProvider(baseURL string, timeout time.Duration) *HTTPVideoProvider {
	return &HTTPVideoProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type videoLinkRequest struct {
	AppointmentID string    `json:"appointment_id"`
	Topic         string    `json:"topic"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

type videoLinkResponse struct {
	JoinURL string `json:"join_url"`
}

func (p *HTTPVideoProvider) CreateLink(ctx context.Context, appt AppointmentContext) (string, error) {
	if p.baseURL == "" {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(videoLinkRequest{
		AppointmentID: appt.AppointmentID.String(),
		Topic:         fmt.Sprintf("Consultation with %s", appt.ClinicianName),
		StartTime:     appt.Start,
		EndTime:       appt.End,
	})
	if err != nil {
		return "", fmt.Errorf("marshal video link request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/meetings", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build video link request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call video provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("video provider returned status %d", resp.StatusCode)
	}

	var out videoLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode video provider response: %w", err)
	}
	if out.JoinURL == "" {
		return "", fmt.Errorf("video provider returned empty join_url")
	}
	return out.JoinURL, nil
}

// HTTPPaymentProvider creates a payment link through a configured endpoint.
type HTTPPaymentProvider struct {
	baseURL     string
	amountCents int64
	currency    string
	client      *http.Client
}

func NewHTTPPaymentProvider(baseURL string, amountCents int64, currency string, timeout time.Duration) *HTTPPaymentProvider {
	return &HTTPPaymentProvider{
		baseURL:     baseURL,
		amountCents: amountCents,
		currency:    currency,
		client:      &http.Client{Timeout: timeout},
	}
}

type paymentLinkRequest struct {
	AppointmentID string `json:"appointment_id"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
}

func (p *HTTPPaymentProvider) CreateAndSend(ctx context.Context, appointmentID uuid.UUID, patientName, patientEmail string) (*PaymentLink, error) {
	if p.baseURL == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(paymentLinkRequest{
		AppointmentID: appointmentID.String(),
		PatientName:   patientName,
		PatientEmail:  patientEmail,
		AmountCents:   p.amountCents,
		Currency:      p.currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment link request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payment-links", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build payment link request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call payment provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	var link PaymentLink
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return nil, fmt.Errorf("decode payment provider response: %w", err)
	}
	return &link, nil
}

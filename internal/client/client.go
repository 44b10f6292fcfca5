// Package client is a typed HTTP client for the scheduling API, used by the
// schedctl CLI and the load simulator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-engine/internal/api"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Details string
}

func (e *APIError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Details)
}

// Retryable reports whether the request may be sent again as is.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests
}

// IsCode reports whether err is an APIError with the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	retryFor time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithRetry sets how long retryable failures are retried. Zero disables retries.
func WithRetry(d time.Duration) Option { return func(cl *Client) { cl.retryFor = d } }

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
		retryFor: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			apiErr := decodeError(resp)
			if apiErr.Retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	if c.retryFor <= 0 {
		err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = c.retryFor
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return apiErr
	}

	var payload struct {
		Error   string                `json:"error"`
		Details string                `json:"details"`
		Fields  []api.FieldValidation `json:"fields"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		apiErr.Details = strings.TrimSpace(string(raw))
		return apiErr
	}
	if payload.Error != "" {
		apiErr.Code = payload.Error
	}
	apiErr.Details = payload.Details
	for _, f := range payload.Fields {
		if apiErr.Details != "" {
			apiErr.Details += "; "
		}
		apiErr.Details += f.Field + ": " + f.Message
	}
	return apiErr
}

func pageValues(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// Directory

func (c *Client) Specialties(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/v1/specialties", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RegisterPractitioner(ctx context.Context, name, specialty string) (*api.PractitionerResponse, error) {
	var out api.PractitionerResponse
	err := c.do(ctx, http.MethodPost, "/v1/practitioners", api.RegisterPractitionerRequest{Name: name, Specialty: specialty}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPractitioners(ctx context.Context, specialty string) ([]api.PractitionerResponse, error) {
	path := "/v1/practitioners"
	if specialty != "" {
		path += "?" + url.Values{"specialty": {specialty}}.Encode()
	}
	var out []api.PractitionerResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RegisterPatient(ctx context.Context, name string, email *string) (*api.PatientResponse, error) {
	var out api.PatientResponse
	err := c.do(ctx, http.MethodPost, "/v1/patients", api.RegisterPatientRequest{Name: name, Email: email}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Slot registry

func (c *Client) DeclareAvailability(ctx context.Context, practitionerID uuid.UUID, req api.DeclareAvailabilityRequest) (*api.WindowResponse, error) {
	var out api.WindowResponse
	err := c.do(ctx, http.MethodPost, "/v1/practitioners/"+practitionerID.String()+"/availability", req, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListWindows(ctx context.Context, practitionerID uuid.UUID, date string) ([]api.WindowResponse, error) {
	var out []api.WindowResponse
	path := "/v1/practitioners/" + practitionerID.String() + "/availability?" + url.Values{"date": {date}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RevokeWindow(ctx context.Context, windowID uuid.UUID) (*api.RevokeResponse, error) {
	var out api.RevokeResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/availability/"+windowID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSlots(ctx context.Context, practitionerID uuid.UUID, date string) ([]api.SlotResponse, error) {
	var out []api.SlotResponse
	path := "/v1/practitioners/" + practitionerID.String() + "/slots?" + url.Values{"date": {date}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Booking and lifecycle

// Book requests an appointment. A request without an idempotency key gets a
// fresh one so that retries after an unknown outcome cannot book twice.
func (c *Client) Book(ctx context.Context, req api.BookAppointmentRequest) (*api.AppointmentResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	var out api.AppointmentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/appointments", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAppointment(ctx context.Context, id uuid.UUID) (*api.AppointmentResponse, error) {
	var out api.AppointmentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/appointments/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Confirm(ctx context.Context, id uuid.UUID, message string) (*api.AppointmentResponse, error) {
	var out api.AppointmentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/appointments/"+id.String()+"/confirm", api.ConfirmRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, id uuid.UUID, reason string) (*api.AppointmentResponse, error) {
	var out api.AppointmentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/appointments/"+id.String()+"/cancel", api.CancelRequest{Reason: reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, id uuid.UUID) ([]api.AuditEntryResponse, error) {
	var out []api.AuditEntryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/appointments/"+id.String()+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Queries

func (c *Client) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]api.AppointmentResponse, error) {
	var out []api.AppointmentResponse
	path := "/v1/patients/" + patientID.String() + "/appointments" + pageValues(limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPractitionerAppointments(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]api.AppointmentResponse, error) {
	var out []api.AppointmentResponse
	path := "/v1/practitioners/" + practitionerID.String() + "/appointments" + pageValues(limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

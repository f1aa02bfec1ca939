// Package renovatio is a thin client for the Renovatio scheduling CRM.
// The CRM owns all real appointment, clinic and doctor data; every failure
// (transport, timeout, non-2xx, API-level error) is surfaced as a single
// ErrRemote condition and never retried here.
package renovatio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-querystring/query"
)

var ErrRemote = errors.New("renovatio: remote error")

const DefaultTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Flag maps a local boolean to the CRM's 1/2 sentinel encoding.
func Flag(b bool) int {
	if b {
		return 1
	}
	return 2
}

type CreateAppointmentRequest struct {
	FirstName      string `url:"first_name"`
	LastName       string `url:"last_name"`
	ThirdName      string `url:"third_name,omitempty"`
	Phone          string `url:"phone"`
	Email          string `url:"email,omitempty"`
	BirthDate      string `url:"birth_date,omitempty"`
	Gender         string `url:"gender,omitempty"`
	DoctorID       int64  `url:"doctor_id"`
	ClinicID       int64  `url:"clinic_id"`
	ServiceID      int64  `url:"service_id,omitempty"`
	TimeStart      string `url:"time_start"`
	TimeEnd        string `url:"time_end"`
	Comment        string `url:"comment,omitempty"`
	Channel        string `url:"channel,omitempty"`
	Source         string `url:"source,omitempty"`
	Type           string `url:"type,omitempty"`
	IsOutside      int    `url:"is_outside"`
	IsTelemedicine int    `url:"is_telemedicine"`
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (c *Client) call(ctx context.Context, path string, params interface{}, out interface{}) error {
	values, err := query.Values(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	values.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+values.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d", ErrRemote, res.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrRemote, err)
	}
	if env.Error != "" {
		return fmt.Errorf("%w: %s", ErrRemote, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode data: %v", ErrRemote, err)
		}
	}
	return nil
}

// CreateAppointment books the appointment remotely and returns the CRM's id.
func (c *Client) CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (string, error) {
	var data struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "/appointment/create", req, &data); err != nil {
		return "", err
	}
	if data.ID == "" {
		return "", fmt.Errorf("%w: empty appointment id", ErrRemote)
	}
	return data.ID, nil
}

type idParams struct {
	AppointmentID string `url:"appointment_id"`
}

func (c *Client) CheckStatus(ctx context.Context, externalID string) (string, error) {
	var data struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, "/appointment/status", idParams{AppointmentID: externalID}, &data); err != nil {
		return "", err
	}
	return data.Status, nil
}

type cancelParams struct {
	AppointmentID string `url:"appointment_id"`
	Comment       string `url:"comment,omitempty"`
}

func (c *Client) Cancel(ctx context.Context, externalID, comment string) (bool, error) {
	var data struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, "/appointment/cancel", cancelParams{AppointmentID: externalID, Comment: comment}, &data); err != nil {
		return false, err
	}
	return data.Success, nil
}

func (c *Client) Confirm(ctx context.Context, externalID string) (bool, error) {
	var data struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, "/appointment/confirm", idParams{AppointmentID: externalID}, &data); err != nil {
		return false, err
	}
	return data.Success, nil
}

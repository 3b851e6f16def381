package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"memepay/models"
)

// API is the backend surface the transfer workflow consumes. The concrete
// implementation is Client; tests substitute their own.
type API interface {
	UserDetail(ctx context.Context, userID int) (models.User, error)
	TransferToken(ctx context.Context, req models.TransferRequest, idempotencyKey string) (int, error)
	VerifyTransaction(ctx context.Context, txID int, code string) error
}

// APIError is a non-2xx response from the backend, carrying the
// backend-supplied message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Client is a thin REST wrapper around the memepay backend.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func New(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// UserDetail fetches a user's profile including the current token balance.
func (c *Client) UserDetail(ctx context.Context, userID int) (models.User, error) {
	var u models.User
	err := c.do(ctx, http.MethodGet, "/users/"+strconv.Itoa(userID), nil, "", &u)
	return u, err
}

// TopTokenHolders fetches the users with the largest balances.
func (c *Client) TopTokenHolders(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := c.do(ctx, http.MethodGet, "/users/topToken", nil, "", &users)
	return users, err
}

// TransferToken submits a transfer request and returns the pending
// transaction identifier assigned by the backend.
func (c *Client) TransferToken(ctx context.Context, req models.TransferRequest, idempotencyKey string) (int, error) {
	body := map[string]interface{}{
		"amount":     req.Amount,
		"reason":     req.Reason,
		"receiverId": req.ReceiverID,
	}
	var resp struct {
		ID int `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tokens/transfer", body, idempotencyKey, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// VerifyTransaction submits the one-time code for a pending transaction.
func (c *Client) VerifyTransaction(ctx context.Context, txID int, code string) error {
	body := map[string]interface{}{
		"txId":       txID,
		"verifyCode": code,
	}
	return c.do(ctx, http.MethodPost, "/tokens/verifyTransaction", body, "", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return err
		}
	}

	var req *http.Request
	var err error
	if reqBody != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", c.authToken)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

package client

import (
	"context"
	"errors"
	"testing"

	"memepay/models"

	"github.com/stretchr/testify/assert"
)

type fakeAPI struct {
	userDetail func(ctx context.Context, id int) (models.User, error)
	transfer   func(ctx context.Context, req models.TransferRequest, key string) (int, error)
	verify     func(ctx context.Context, txID int, code string) error

	transferCalls int
	verifyCalls   int
}

func (f *fakeAPI) UserDetail(ctx context.Context, id int) (models.User, error) {
	if f.userDetail == nil {
		panic("unexpected UserDetail call")
	}
	return f.userDetail(ctx, id)
}

func (f *fakeAPI) TransferToken(ctx context.Context, req models.TransferRequest, key string) (int, error) {
	f.transferCalls++
	if f.transfer == nil {
		panic("unexpected TransferToken call")
	}
	return f.transfer(ctx, req, key)
}

func (f *fakeAPI) VerifyTransaction(ctx context.Context, txID int, code string) error {
	f.verifyCalls++
	if f.verify == nil {
		panic("unexpected VerifyTransaction call")
	}
	return f.verify(ctx, txID, code)
}

type recordingNotifier struct {
	loading []string
	success []string
	errors  []string
}

func (n *recordingNotifier) Loading(msg string) { n.loading = append(n.loading, msg) }
func (n *recordingNotifier) Success(msg string) { n.success = append(n.success, msg) }
func (n *recordingNotifier) Error(msg string)   { n.errors = append(n.errors, msg) }

func receiver42() models.Receiver {
	return models.Receiver{ID: 42, FullName: "Jamie Memelord", Avatar: "/images/default-avatar.jpg"}
}

func TestInitiateRejectsInvalidForm(t *testing.T) {
	tests := []struct {
		name   string
		amount int
		reason string
	}{
		{name: "amount omitted", amount: 0, reason: "lunch"},
		{name: "amount negative", amount: -5, reason: "lunch"},
		{name: "reason omitted", amount: 100, reason: ""},
		{name: "reason blank", amount: 100, reason: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			notes := &recordingNotifier{}
			s := NewTransferSession(api, 1, receiver42(), notes)

			_, err := s.Initiate(context.Background(), tt.amount, tt.reason)

			assert.ErrorIs(t, err, ErrFormInvalid)
			assert.Equal(t, StateCompose, s.State())
			assert.Zero(t, api.transferCalls)
			assert.Equal(t, []string{"Please check form value then try again"}, notes.errors)
		})
	}
}

func TestInitiateSuccess(t *testing.T) {
	// Scenario: amount=100, reason="lunch", receiver id=42, backend returns id 77.
	api := &fakeAPI{
		transfer: func(_ context.Context, req models.TransferRequest, key string) (int, error) {
			assert.Equal(t, 100, req.Amount)
			assert.Equal(t, "lunch", req.Reason)
			assert.Equal(t, 42, req.ReceiverID)
			assert.Equal(t, 1, req.SenderID)
			assert.NotEmpty(t, key)
			return 77, nil
		},
	}
	notes := &recordingNotifier{}
	s := NewTransferSession(api, 1, receiver42(), notes)

	id, err := s.Initiate(context.Background(), 100, "lunch")

	assert.NoError(t, err)
	assert.Equal(t, 77, id)
	assert.Equal(t, 77, s.TransactionID())
	assert.Equal(t, StateVerify, s.State())
	assert.False(t, s.InFlight())
	assert.Equal(t, []string{"processing..."}, notes.loading)
	assert.Equal(t, []string{"transaction created"}, notes.success)
}

func TestInitiateBackendFailureKeepsCompose(t *testing.T) {
	api := &fakeAPI{
		transfer: func(context.Context, models.TransferRequest, string) (int, error) {
			return 0, &APIError{StatusCode: 402, Message: "insufficient tokens"}
		},
	}
	notes := &recordingNotifier{}
	s := NewTransferSession(api, 1, receiver42(), notes)

	_, err := s.Initiate(context.Background(), 1000, "rent")

	assert.Error(t, err)
	assert.Equal(t, StateCompose, s.State())
	assert.Zero(t, s.TransactionID())
	assert.Equal(t, []string{"error: insufficient tokens"}, notes.errors)

	// The form persists; a corrected submission goes through.
	api.transfer = func(context.Context, models.TransferRequest, string) (int, error) {
		return 78, nil
	}
	id, err := s.Initiate(context.Background(), 100, "rent")
	assert.NoError(t, err)
	assert.Equal(t, 78, id)
	assert.Equal(t, StateVerify, s.State())
	assert.Equal(t, 2, api.transferCalls)
}

func TestVerifyRejectsShortCode(t *testing.T) {
	// Scenario: VERIFY with transactionId=77, code "12345" (5 chars).
	api := &fakeAPI{
		transfer: func(context.Context, models.TransferRequest, string) (int, error) { return 77, nil },
	}
	notes := &recordingNotifier{}
	s := NewTransferSession(api, 1, receiver42(), notes)
	_, err := s.Initiate(context.Background(), 100, "lunch")
	assert.NoError(t, err)

	err = s.Verify(context.Background(), "12345")

	assert.ErrorIs(t, err, ErrCodeLength)
	assert.Equal(t, StateVerify, s.State())
	assert.Zero(t, api.verifyCalls)
	assert.Contains(t, notes.errors, "please enter otp")
}

func TestVerifyRejectsMissingTransaction(t *testing.T) {
	api := &fakeAPI{}
	notes := &recordingNotifier{}
	s := NewTransferSession(api, 1, receiver42(), notes)
	s.state = StateVerify // no transaction was ever created

	err := s.Verify(context.Background(), "482193")

	assert.ErrorIs(t, err, ErrNoTransaction)
	assert.Zero(t, api.verifyCalls)
	assert.Contains(t, notes.errors, "transaction not found")
}

func TestVerifySuccessClosesSession(t *testing.T) {
	// Scenario: VERIFY with transactionId=77, code "482193", backend confirms.
	api := &fakeAPI{
		transfer: func(context.Context, models.TransferRequest, string) (int, error) { return 77, nil },
		verify: func(_ context.Context, txID int, code string) error {
			assert.Equal(t, 77, txID)
			assert.Equal(t, "482193", code)
			return nil
		},
	}
	notes := &recordingNotifier{}
	s := NewTransferSession(api, 1, receiver42(), notes)
	_, err := s.Initiate(context.Background(), 100, "lunch")
	assert.NoError(t, err)

	err = s.Verify(context.Background(), "482193")

	assert.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State())
	assert.Contains(t, notes.success, "Transaction completed successfully")

	// Terminal state is idempotent: no second verification is issued.
	err = s.Verify(context.Background(), "482193")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, api.verifyCalls)
}

func TestVerifyBackendFailureAllowsRetry(t *testing.T) {
	rejected := errors.New("invalid verification code")
	api := &fakeAPI{
		transfer: func(context.Context, models.TransferRequest, string) (int, error) { return 77, nil },
		verify: func(context.Context, int, string) error {
			return rejected
		},
	}
	notes := &recordingNotifier{}
	s := NewTransferSession(api, 1, receiver42(), notes)
	_, err := s.Initiate(context.Background(), 100, "lunch")
	assert.NoError(t, err)

	err = s.Verify(context.Background(), "000000")
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, StateVerify, s.State())
	assert.Contains(t, notes.errors, "error: invalid verification code")

	api.verify = func(context.Context, int, string) error { return nil }
	err = s.Verify(context.Background(), "482193")
	assert.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 2, api.verifyCalls)
}

func TestCancelAbandonsWithoutBackendCall(t *testing.T) {
	api := &fakeAPI{
		transfer: func(context.Context, models.TransferRequest, string) (int, error) { return 77, nil },
	}
	s := NewTransferSession(api, 1, receiver42(), nil)
	_, err := s.Initiate(context.Background(), 100, "lunch")
	assert.NoError(t, err)

	assert.NoError(t, s.Cancel())
	assert.Equal(t, StateAbandoned, s.State())
	assert.Zero(t, api.verifyCalls)

	// Everything after abandonment is rejected.
	assert.ErrorIs(t, s.Cancel(), ErrClosed)
	assert.ErrorIs(t, s.Verify(context.Background(), "482193"), ErrClosed)
	_, err = s.Initiate(context.Background(), 100, "lunch")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSingleInFlightCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		transfer: func(context.Context, models.TransferRequest, string) (int, error) { return 77, nil },
		verify: func(context.Context, int, string) error {
			close(entered)
			<-release
			return nil
		},
	}
	s := NewTransferSession(api, 1, receiver42(), nil)
	_, err := s.Initiate(context.Background(), 100, "lunch")
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Verify(context.Background(), "482193")
	}()
	<-entered

	assert.True(t, s.InFlight())
	assert.ErrorIs(t, s.Verify(context.Background(), "482193"), ErrBusy)
	assert.ErrorIs(t, s.Cancel(), ErrBusy)

	close(release)
	assert.NoError(t, <-done)
	assert.False(t, s.InFlight())
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 1, api.verifyCalls)
}

func TestSenderDetail(t *testing.T) {
	api := &fakeAPI{
		userDetail: func(_ context.Context, id int) (models.User, error) {
			assert.Equal(t, 1, id)
			return models.User{ID: 1, Username: "sender", TokenBalance: 500}, nil
		},
	}
	s := NewTransferSession(api, 1, receiver42(), nil)

	u, err := s.SenderDetail(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 500, u.TokenBalance)
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "COMPOSE", StateCompose.String())
	assert.Equal(t, "VERIFY", StateVerify.String())
	assert.Equal(t, "CLOSED(completed)", StateCompleted.String())
	assert.Equal(t, "CLOSED(abandoned)", StateAbandoned.String())
}

package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"memepay/models"

	"github.com/google/uuid"
)

// VerifyCodeLength is the exact length of a one-time verification code.
const VerifyCodeLength = 6

// SessionState is the client-observed state of one transfer attempt.
type SessionState int

const (
	StateCompose SessionState = iota
	StateVerify
	StateCompleted
	StateAbandoned
)

func (s SessionState) String() string {
	switch s {
	case StateCompose:
		return "COMPOSE"
	case StateVerify:
		return "VERIFY"
	case StateCompleted:
		return "CLOSED(completed)"
	case StateAbandoned:
		return "CLOSED(abandoned)"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is defined from s.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

var (
	ErrFormInvalid      = errors.New("check form values")
	ErrCodeLength       = errors.New("please enter otp")
	ErrNoTransaction    = errors.New("transaction not found")
	ErrBusy             = errors.New("a request is already in flight")
	ErrClosed           = errors.New("transfer session is closed")
	ErrNotVerifying     = errors.New("no transfer has been initiated")
	ErrAlreadyInitiated = errors.New("a pending transaction is already open")
)

const (
	msgProcessing = "processing..."
	msgCreated    = "transaction created"
	msgCompleted  = "Transaction completed successfully"
	msgCheckForm  = "Please check form value then try again"
	msgEnterOTP   = "please enter otp"
	msgTxNotFound = "transaction not found"
)

// TransferSession is the lifecycle of one token transfer attempt:
//
//	COMPOSE --(initiate: success)--> VERIFY
//	COMPOSE --(initiate: failure)--> COMPOSE
//	VERIFY  --(verify: success)----> CLOSED(completed)
//	VERIFY  --(verify: failure)----> VERIFY
//	VERIFY  --(cancel)-------------> CLOSED(abandoned)
//
// At most one backend call is in flight per session; further calls are
// rejected with ErrBusy until it settles, mirroring disabled controls.
// A session is not safe for use from more than one goroutine beyond that
// guard; it models a single user's workflow.
type TransferSession struct {
	api      API
	notifier Notifier
	senderID int
	receiver models.Receiver

	mu    sync.Mutex
	state SessionState
	txID  int
	busy  bool
}

// NewTransferSession starts a session in COMPOSE for the given sender and
// receiver. A nil notifier discards all notifications.
func NewTransferSession(api API, senderID int, receiver models.Receiver, notifier Notifier) *TransferSession {
	if notifier == nil {
		notifier = NopNotifier
	}
	return &TransferSession{
		api:      api,
		notifier: notifier,
		senderID: senderID,
		receiver: receiver,
		state:    StateCompose,
	}
}

// SenderDetail fetches the sender's profile with the current token balance.
// The result is a point-in-time snapshot; no caching, no retry.
func (s *TransferSession) SenderDetail(ctx context.Context) (models.User, error) {
	return s.api.UserDetail(ctx, s.senderID)
}

// Initiate validates the transfer form and submits it. On success the
// session moves to VERIFY and the returned id identifies the pending
// transaction; on failure the session stays in COMPOSE so the form can be
// edited and resubmitted.
func (s *TransferSession) Initiate(ctx context.Context, amount int, reason string) (int, error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if s.state != StateCompose {
		s.mu.Unlock()
		return 0, ErrAlreadyInitiated
	}
	if s.busy {
		s.mu.Unlock()
		return 0, ErrBusy
	}
	if amount <= 0 || strings.TrimSpace(reason) == "" {
		s.mu.Unlock()
		s.notifier.Error(msgCheckForm)
		return 0, ErrFormInvalid
	}
	s.busy = true
	s.mu.Unlock()
	defer s.settleCall()

	s.notifier.Loading(msgProcessing)
	id, err := s.api.TransferToken(ctx, models.TransferRequest{
		SenderID:   s.senderID,
		ReceiverID: s.receiver.ID,
		Amount:     amount,
		Reason:     reason,
	}, uuid.NewString())
	if err != nil {
		s.notifier.Error("error: " + err.Error())
		return 0, err
	}

	s.mu.Lock()
	s.txID = id
	s.state = StateVerify
	s.mu.Unlock()

	s.notifier.Success(msgCreated)
	return id, nil
}

// Verify submits the one-time code for the pending transaction. On success
// the session closes as completed; on failure it stays in VERIFY so the
// code can be re-entered.
func (s *TransferSession) Verify(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateVerify {
		s.mu.Unlock()
		return ErrNotVerifying
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if len(code) != VerifyCodeLength {
		s.mu.Unlock()
		s.notifier.Error(msgEnterOTP)
		return ErrCodeLength
	}
	if s.txID == 0 {
		s.mu.Unlock()
		s.notifier.Error(msgTxNotFound)
		return ErrNoTransaction
	}
	txID := s.txID
	s.busy = true
	s.mu.Unlock()
	defer s.settleCall()

	s.notifier.Loading(msgProcessing)
	if err := s.api.VerifyTransaction(ctx, txID, code); err != nil {
		s.notifier.Error("error: " + err.Error())
		return err
	}

	s.mu.Lock()
	s.state = StateCompleted
	s.mu.Unlock()

	s.notifier.Success(msgCompleted)
	return nil
}

// Cancel abandons the session without contacting the backend. Any pending
// transaction already created is left to the backend's expiry policy.
func (s *TransferSession) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	if s.state.Terminal() {
		return ErrClosed
	}
	s.state = StateAbandoned
	return nil
}

// State returns the session's current state.
func (s *TransferSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TransactionID returns the pending transaction id, or zero before a
// successful initiation.
func (s *TransferSession) TransactionID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txID
}

// InFlight reports whether a backend call is outstanding.
func (s *TransferSession) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Receiver returns the identity the session was opened with.
func (s *TransferSession) Receiver() models.Receiver {
	return s.receiver
}

func (s *TransferSession) settleCall() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

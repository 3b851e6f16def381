package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"memepay/models"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

const (
	VerifyCodeKeyPrefix = "verify_code:"
	TransferLockPrefix  = "transfer_lock:"
	VerifyCodeLength    = 6

	// DefaultVerifyCodeTTL bounds how long a pending transaction stays
	// verifiable. Expiry is enforced here, not by the client.
	DefaultVerifyCodeTTL = 5 * time.Minute
	TransferLockTimeout  = 10 * time.Second
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrReasonRequired      = errors.New("reason is required")
	ErrSelfTransfer        = errors.New("cannot transfer tokens to yourself")
	ErrReceiverNotFound    = errors.New("receiver not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionClosed   = errors.New("transaction is no longer pending")
	ErrCodeInvalid         = errors.New("invalid verification code")
	ErrCodeExpired         = errors.New("verification code expired")
	ErrDuplicateRequest    = errors.New("a transfer with this idempotency key is currently being processed")
)

// TransferService owns the pending-transaction lifecycle: it creates
// transactions in state CREATED together with a one-time verification code,
// and settles them to VERIFIED once the code is confirmed. Verification
// codes live in Redis with a TTL; Postgres holds the transaction rows and
// is the sole authority for balances.
type TransferService struct {
	db      *pgxpool.Pool
	redis   *redis.Client
	tokens  *TokenService
	codeTTL time.Duration
	log     *logrus.Logger
}

func NewTransferService(db *pgxpool.Pool, redis *redis.Client, tokens *TokenService, codeTTL time.Duration, log *logrus.Logger) *TransferService {
	if codeTTL <= 0 {
		codeTTL = DefaultVerifyCodeTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	rand.Seed(uint64(time.Now().UnixNano()))
	return &TransferService{
		db:      db,
		redis:   redis,
		tokens:  tokens,
		codeTTL: codeTTL,
		log:     log,
	}
}

// CreateTransfer validates a transfer request, records a pending transaction
// and issues its verification code. If idempotencyKey matches a previously
// created transaction, that transaction is returned instead of a new one.
func (s *TransferService) CreateTransfer(ctx context.Context, req models.TransferRequest, idempotencyKey string) (models.PendingTransaction, error) {
	if req.Amount <= 0 {
		return models.PendingTransaction{}, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Reason) == "" {
		return models.PendingTransaction{}, ErrReasonRequired
	}
	if req.SenderID == req.ReceiverID {
		return models.PendingTransaction{}, ErrSelfTransfer
	}

	if idempotencyKey != "" {
		lockKey := TransferLockPrefix + idempotencyKey
		acquired, err := s.redis.SetNX(ctx, lockKey, "processing", TransferLockTimeout).Result()
		if err != nil {
			return models.PendingTransaction{}, fmt.Errorf("acquire transfer lock: %w", err)
		}
		if !acquired {
			return models.PendingTransaction{}, ErrDuplicateRequest
		}
		defer func() {
			if err := s.redis.Del(context.Background(), lockKey).Err(); err != nil {
				s.log.WithError(err).Warn("failed to release transfer lock")
			}
		}()

		existing, err := s.transactionByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"tx_id":           existing.ID,
				"idempotency_key": idempotencyKey,
			}).Info("transfer recovered by idempotency key")
			return existing, nil
		}
		if err != ErrTransactionNotFound {
			return models.PendingTransaction{}, err
		}
	}

	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)
	`, req.ReceiverID).Scan(&exists)
	if err != nil {
		return models.PendingTransaction{}, err
	}
	if !exists {
		return models.PendingTransaction{}, ErrReceiverNotFound
	}

	balance, err := s.tokens.GetBalance(ctx, req.SenderID)
	if err != nil {
		return models.PendingTransaction{}, err
	}
	if balance < req.Amount {
		return models.PendingTransaction{}, ErrInsufficientTokens
	}

	tx := models.PendingTransaction{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Reason:     req.Reason,
		State:      models.StateCreated,
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO transactions (sender_id, receiver_id, amount, reason, state, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at
	`, tx.SenderID, tx.ReceiverID, tx.Amount, tx.Reason, tx.State, idempotencyKey).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return models.PendingTransaction{}, fmt.Errorf("create transaction: %w", err)
	}

	code := generateVerifyCode()
	if err := s.redis.Set(ctx, verifyCodeKey(tx.ID), code, s.codeTTL).Err(); err != nil {
		return models.PendingTransaction{}, fmt.Errorf("store verification code: %w", err)
	}

	// Delivery of the code (mail, etc.) is handled out of band.
	s.log.WithFields(logrus.Fields{
		"tx_id":     tx.ID,
		"sender_id": tx.SenderID,
		"amount":    tx.Amount,
	}).Info("pending transaction created, verification code issued")

	return tx, nil
}

// VerifyTransfer confirms a pending transaction with its one-time code and
// settles the balances. Only the transaction's sender may verify it; other
// callers are told the transaction does not exist. The transaction row stays
// CREATED on a code mismatch so the sender can retry with a corrected code.
func (s *TransferService) VerifyTransfer(ctx context.Context, senderID, txID int, code string) error {
	if txID <= 0 {
		return ErrTransactionNotFound
	}

	tx, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.SenderID != senderID {
		return ErrTransactionNotFound
	}
	if tx.State != models.StateCreated {
		return ErrTransactionClosed
	}

	stored, err := s.redis.Get(ctx, verifyCodeKey(txID)).Result()
	if err == redis.Nil {
		return ErrCodeExpired
	}
	if err != nil {
		return err
	}
	if stored != code {
		return ErrCodeInvalid
	}

	if err := s.settle(ctx, tx); err != nil {
		return err
	}

	if err := s.redis.Del(ctx, verifyCodeKey(txID)).Err(); err != nil {
		s.log.WithError(err).WithField("tx_id", txID).Warn("failed to delete verification code")
	}

	if err := s.tokens.RefreshBalance(ctx, tx.SenderID); err != nil {
		s.tokens.ScheduleRefresh(tx.SenderID)
	}
	if err := s.tokens.RefreshBalance(ctx, tx.ReceiverID); err != nil {
		s.tokens.ScheduleRefresh(tx.ReceiverID)
	}

	s.log.WithFields(logrus.Fields{
		"tx_id":       tx.ID,
		"sender_id":   tx.SenderID,
		"receiver_id": tx.ReceiverID,
		"amount":      tx.Amount,
	}).Info("transaction verified")

	return nil
}

// GetTransaction returns a transaction by id.
func (s *TransferService) GetTransaction(ctx context.Context, txID int) (models.PendingTransaction, error) {
	var tx models.PendingTransaction
	err := s.db.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, amount, reason, state, created_at
		FROM transactions
		WHERE id = $1
	`, txID).Scan(&tx.ID, &tx.SenderID, &tx.ReceiverID, &tx.Amount, &tx.Reason, &tx.State, &tx.CreatedAt)
	if err == pgx.ErrNoRows {
		return models.PendingTransaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return models.PendingTransaction{}, err
	}
	return tx, nil
}

// settle moves the tokens and marks the transaction VERIFIED in a single
// database transaction. The state flip is guarded on CREATED so a
// transaction settles at most once even under concurrent verifications,
// and the debit is guarded so a balance can never go negative even if it
// changed since the transfer was created.
func (s *TransferService) settle(ctx context.Context, tx models.PendingTransaction) error {
	dbtx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx) // no-op if already committed

	res, err := dbtx.Exec(ctx, `
		UPDATE transactions SET state = $1
		WHERE id = $2 AND state = $3
	`, models.StateVerified, tx.ID, models.StateCreated)
	if err != nil {
		return fmt.Errorf("mark transaction verified: %w", err)
	}
	if res.RowsAffected() == 0 {
		// Another verification already settled or failed this transaction.
		return ErrTransactionClosed
	}

	res, err = dbtx.Exec(ctx, `
		UPDATE users SET token_balance = token_balance - $1
		WHERE id = $2 AND token_balance >= $1
	`, tx.Amount, tx.SenderID)
	if err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}
	if res.RowsAffected() == 0 {
		dbtx.Rollback(ctx)
		s.markFailed(ctx, tx.ID)
		return ErrInsufficientTokens
	}

	if _, err := dbtx.Exec(ctx, `
		UPDATE users SET token_balance = token_balance + $1
		WHERE id = $2
	`, tx.Amount, tx.ReceiverID); err != nil {
		return fmt.Errorf("credit receiver: %w", err)
	}

	return dbtx.Commit(ctx)
}

func (s *TransferService) markFailed(ctx context.Context, txID int) {
	if _, err := s.db.Exec(ctx, `
		UPDATE transactions SET state = $1 WHERE id = $2
	`, models.StateFailed, txID); err != nil {
		s.log.WithError(err).WithField("tx_id", txID).Error("failed to mark transaction failed")
	}
}

func (s *TransferService) transactionByIdempotencyKey(ctx context.Context, key string) (models.PendingTransaction, error) {
	var tx models.PendingTransaction
	err := s.db.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, amount, reason, state, created_at
		FROM transactions
		WHERE idempotency_key = $1
	`, key).Scan(&tx.ID, &tx.SenderID, &tx.ReceiverID, &tx.Amount, &tx.Reason, &tx.State, &tx.CreatedAt)
	if err == pgx.ErrNoRows {
		return models.PendingTransaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return models.PendingTransaction{}, err
	}
	return tx, nil
}

func generateVerifyCode() string {
	code := make([]byte, VerifyCodeLength)
	for i := range code {
		code[i] = byte('0' + rand.Intn(10))
	}
	return string(code)
}

func verifyCodeKey(txID int) string {
	return VerifyCodeKeyPrefix + strconv.Itoa(txID)
}

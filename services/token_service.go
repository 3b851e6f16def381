package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"memepay/models"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
)

const (
	RedisKeyPrefix    = "token_balance:"
	RedisCacheTTL     = 24 * time.Hour
	CacheRefreshBatch = 100
)

var (
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrInvalidToken       = errors.New("invalid auth token")
	ErrUserNotFound       = errors.New("user not found")
)

// TokenService serves user profiles and token balances, keeping a Redis
// cache in front of the users table. Postgres is authoritative; the cache
// only ever lags behind it.
type TokenService struct {
	db          *pgxpool.Pool
	redis       *redis.Client
	log         *logrus.Logger
	cacheMutex  sync.RWMutex
	refreshChan chan int
}

func NewTokenService(db *pgxpool.Pool, redis *redis.Client, log *logrus.Logger) *TokenService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ts := &TokenService{
		db:          db,
		redis:       redis,
		log:         log,
		refreshChan: make(chan int, CacheRefreshBatch),
	}
	go ts.backgroundCacheRefresh()
	return ts
}

// GetUser returns the full profile for a user, balance included.
func (ts *TokenService) GetUser(ctx context.Context, userID int) (models.User, error) {
	var u models.User
	err := ts.db.QueryRow(ctx, `
		SELECT id, username, full_name, avatar, token_balance, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Username, &u.FullName, &u.Avatar, &u.TokenBalance, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// UserByAuthToken resolves the authenticated caller from an Authorization token.
func (ts *TokenService) UserByAuthToken(ctx context.Context, authToken string) (models.User, error) {
	var u models.User
	err := ts.db.QueryRow(ctx, `
		SELECT id, username, full_name, avatar, token_balance, created_at
		FROM users
		WHERE auth_token = $1
	`, authToken).Scan(&u.ID, &u.Username, &u.FullName, &u.Avatar, &u.TokenBalance, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return models.User{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// TopTokenHolders returns the users with the largest balances.
func (ts *TokenService) TopTokenHolders(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ts.db.Query(ctx, `
		SELECT id, username, full_name, avatar, token_balance, created_at
		FROM users
		ORDER BY token_balance DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Avatar, &u.TokenBalance, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetBalance returns the current token balance for a user.
func (ts *TokenService) GetBalance(ctx context.Context, userID int) (int, error) {
	balance, err := ts.getBalanceFromCache(ctx, userID)
	if err != nil {
		if err == redis.Nil {
			// Cache miss, refresh from database
			err = ts.RefreshBalance(ctx, userID)
			if err != nil {
				return 0, err
			}
			return ts.getBalanceFromCache(ctx, userID)
		}
		return 0, err
	}
	return balance, nil
}

// RefreshBalance re-reads a user's balance from Postgres into the cache.
func (ts *TokenService) RefreshBalance(ctx context.Context, userID int) error {
	var balance int
	err := ts.db.QueryRow(ctx, `
		SELECT token_balance FROM users WHERE id = $1
	`, userID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	return ts.updateBalanceInCache(ctx, userID, balance)
}

// ScheduleRefresh queues a cache refresh without blocking the caller.
// Used after settlement when a synchronous refresh fails.
func (ts *TokenService) ScheduleRefresh(userID int) {
	select {
	case ts.refreshChan <- userID:
	default:
		ts.log.WithField("user_id", userID).Warn("cache refresh queue full, dropping refresh")
	}
}

func (ts *TokenService) getBalanceFromCache(ctx context.Context, userID int) (int, error) {
	ts.cacheMutex.RLock()
	defer ts.cacheMutex.RUnlock()

	balance, err := ts.redis.Get(ctx, balanceKey(userID)).Int()
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (ts *TokenService) updateBalanceInCache(ctx context.Context, userID int, balance int) error {
	ts.cacheMutex.Lock()
	defer ts.cacheMutex.Unlock()

	return ts.redis.Set(ctx, balanceKey(userID), balance, RedisCacheTTL).Err()
}

func (ts *TokenService) backgroundCacheRefresh() {
	for userID := range ts.refreshChan {
		ctx := context.Background()
		if err := ts.RefreshBalance(ctx, userID); err != nil {
			ts.log.WithError(err).WithField("user_id", userID).Error("error refreshing balance cache")
		}
	}
}

func balanceKey(userID int) string {
	return RedisKeyPrefix + strconv.Itoa(userID)
}

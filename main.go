package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"memepay/models"
	"memepay/services"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	tokenService    *services.TokenService
	transferService *services.TransferService
)

func main() {
	log := logrus.StandardLogger()

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment")
	}

	// Initialize database connection
	dbpool, err := pgxpool.Connect(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	// Initialize Redis client
	rdb := redis.NewClient(&redis.Options{
		Addr:     os.Getenv("REDIS_URL"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	defer rdb.Close()

	tokenService = services.NewTokenService(dbpool, rdb, log)
	transferService = services.NewTransferService(dbpool, rdb, tokenService, verifyCodeTTL(log), log)

	app := fiber.New()

	app.Get("/users/topToken", topTokenHandler)
	app.Get("/users/:id", userDetailHandler)
	app.Post("/tokens/transfer", authMiddleware, transferHandler)
	app.Post("/tokens/verifyTransaction", authMiddleware, verifyHandler)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.WithField("addr", addr).Info("memepay listening")
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// verifyCodeTTL reads the pending-transaction expiry contract from the
// environment. Codes that outlive it can no longer verify.
func verifyCodeTTL(log *logrus.Logger) time.Duration {
	raw := os.Getenv("VERIFY_CODE_TTL")
	if raw == "" {
		return services.DefaultVerifyCodeTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		log.WithField("value", raw).Warn("invalid VERIFY_CODE_TTL, using default")
		return services.DefaultVerifyCodeTTL
	}
	return ttl
}

func authMiddleware(c fiber.Ctx) error {
	authToken := c.Get("Authorization")
	if authToken == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing authorization token",
		})
	}

	sender, err := tokenService.UserByAuthToken(c.Context(), authToken)
	if err != nil {
		if err == services.ErrInvalidToken {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization token",
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}

	c.Locals("sender", sender)
	return c.Next()
}

func userDetailHandler(c fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id",
		})
	}

	user, err := tokenService.GetUser(c.Context(), id)
	if err != nil {
		if err == services.ErrUserNotFound {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get user",
		})
	}

	return c.JSON(user)
}

func topTokenHandler(c fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "10"))

	users, err := tokenService.TopTokenHolders(c.Context(), limit)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get top token holders",
		})
	}

	return c.JSON(users)
}

func transferHandler(c fiber.Ctx) error {
	sender, ok := c.Locals("sender").(models.User)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing authorization token",
		})
	}

	var req struct {
		Amount     int    `json:"amount"`
		Reason     string `json:"reason"`
		ReceiverID int    `json:"receiverId"`
	}
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	tx, err := transferService.CreateTransfer(c.Context(), models.TransferRequest{
		SenderID:   sender.ID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Reason:     req.Reason,
	}, c.Get("Idempotency-Key"))
	if err != nil {
		switch err {
		case services.ErrInvalidAmount, services.ErrReasonRequired, services.ErrSelfTransfer:
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case services.ErrReceiverNotFound:
			return c.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		case services.ErrInsufficientTokens:
			return c.Status(http.StatusPaymentRequired).JSON(fiber.Map{
				"error": err.Error(),
			})
		case services.ErrDuplicateRequest:
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		}
	}

	return c.JSON(fiber.Map{
		"id": tx.ID,
	})
}

func verifyHandler(c fiber.Ctx) error {
	sender, ok := c.Locals("sender").(models.User)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing authorization token",
		})
	}

	var req struct {
		TxID       int    `json:"txId"`
		VerifyCode string `json:"verifyCode"`
	}
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	err := transferService.VerifyTransfer(c.Context(), sender.ID, req.TxID, req.VerifyCode)
	if err != nil {
		switch err {
		case services.ErrTransactionNotFound:
			return c.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		case services.ErrCodeInvalid, services.ErrCodeExpired:
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case services.ErrTransactionClosed:
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		case services.ErrInsufficientTokens:
			return c.Status(http.StatusPaymentRequired).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "success",
	})
}

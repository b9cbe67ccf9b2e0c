package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"school_library/pkg/auth"
	"school_library/pkg/borrowing"
	"school_library/pkg/circuitbreaker"
	"school_library/pkg/config"
	"school_library/pkg/database"
	"school_library/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	db           *gorm.DB
	gate         *auth.Gate
	ledger       *borrowing.Ledger
	breaker      *circuitbreaker.CircuitBreaker
	loginLimiter *ipRateLimiter
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Info("starting library service", "addr", cfg.ListenAddr, "driver", cfg.DB.Driver)

	db, err = openDatabase(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close(db)

	gate, err = auth.NewGate(auth.Config{Secret: cfg.JWTSecret, TokenTTL: cfg.JWTTTL})
	if err != nil {
		slog.Error("failed to create auth gate", "error", err)
		os.Exit(1)
	}
	ledger = borrowing.NewLedger(store.New(db))
	breaker = circuitbreaker.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerTimeout,
		circuitbreaker.WithFailureFilter(isInfrastructureError))
	loginLimiter = newIPRateLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst)

	gin.SetMode(cfg.GinMode)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("library service listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// openDatabase connects and migrates. Demo rows are only added when
// SEED_DEMO_DATA is set; `libctl seed` does the same on demand.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	conn, err := database.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if cfg.SeedDemoData {
		if err := database.Seed(conn); err != nil {
			database.Close(conn)
			return nil, err
		}
	}
	return conn, nil
}

func setupRouter() *gin.Engine {
	server := gin.New()
	server.Use(gin.Recovery(), requestID(), requestLogger())

	server.GET("/manage/health", healthCheck)

	api := server.Group("/api")
	api.POST("/auth/login", loginLimiter.middleware(), login)

	staff := api.Group("", requireAuth())
	staff.POST("/teachers", createTeacher)

	staff.GET("/books", listBooks)
	staff.POST("/books", createBook)
	staff.GET("/books/:id", getBook)
	staff.PUT("/books/:id", updateBook)
	staff.DELETE("/books/:id", deleteBook)

	staff.GET("/students", listStudents)
	staff.POST("/students", createStudent)
	staff.GET("/students/:id", getStudent)
	staff.PUT("/students/:id", updateStudent)
	staff.DELETE("/students/:id", deleteStudent)

	staff.GET("/borrowings", listBorrowings)
	staff.POST("/borrowings", createBorrowing)
	staff.GET("/borrowings/:id", getBorrowing)
	staff.PUT("/borrowings/:id", returnBorrowing)
	staff.PUT("/borrowings/:id/return", returnBorrowing)

	return server
}

func healthCheck(c *gin.Context) {
	if db == nil || database.Ping(db) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
		return
	}
	status := gin.H{"status": "UP"}
	if breaker != nil {
		status["breaker"] = breaker.GetState().String()
	}
	c.JSON(http.StatusOK, status)
}

// guarded runs a ledger write through the breaker when one is configured.
func guarded(fn func() error) error {
	if breaker == nil {
		return fn()
	}
	return breaker.Execute(fn)
}

// isInfrastructureError keeps domain outcomes like an unavailable book from
// tripping the breaker.
func isInfrastructureError(err error) bool {
	if err == nil || borrowing.IsDomainError(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

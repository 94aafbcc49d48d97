package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredFund/pkg/config"
	"github.com/mcclellann/fredFund/pkg/export"
	"github.com/mcclellann/fredFund/pkg/ledger"
	"github.com/mcclellann/fredFund/pkg/logger"
	"github.com/mcclellann/fredFund/pkg/models"
	"github.com/mcclellann/fredFund/pkg/store"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	storage  store.Storage // Keep a reference to the storage to close it
	log      *zap.Logger
	validate *validator.Validate

	writeSchedule func(io.Writer, *models.Loan, []*models.Installment) error
}

func NewServer(s store.Storage, l *ledger.Ledger, log *zap.Logger) *Server {
	return &Server{
		ledger:   l,
		storage:  s,
		log:      log,
		validate: validator.New(),

		writeSchedule: export.WriteSchedule,
	}
}

// Router registers every endpoint on a fresh mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/login", s.loginHandler).Methods("POST")
	router.HandleFunc("/members", s.listMembersHandler).Methods("GET")
	router.HandleFunc("/members", s.registerMemberHandler).Methods("POST")
	router.HandleFunc("/members/{id}", s.getMemberHandler).Methods("GET")
	router.HandleFunc("/members/{id}/active", s.setMemberActiveHandler).Methods("PUT")
	router.HandleFunc("/members/{id}/role", s.setMemberRoleHandler).Methods("PUT")
	router.HandleFunc("/members/{id}/standing", s.standingHandler).Methods("GET")
	router.HandleFunc("/members/{id}/loans", s.memberLoansHandler).Methods("GET")
	router.HandleFunc("/members/{id}/loans", s.reconcileLoansHandler).Methods("PUT")
	router.HandleFunc("/members/{id}/contributions", s.memberContributionsHandler).Methods("GET")
	router.HandleFunc("/members/{id}/contributions", s.reconcileContributionsHandler).Methods("PUT")

	router.HandleFunc("/schedule/simulate", s.simulateHandler).Methods("POST")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.requestLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/reject", s.rejectLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/installments", s.reconcileInstallmentsHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}/schedule.xlsx", s.exportScheduleHandler).Methods("GET")

	router.HandleFunc("/installments/{id}/payments", s.recordPaymentHandler).Methods("POST")

	router.HandleFunc("/contributions", s.listContributionsHandler).Methods("GET")
	router.HandleFunc("/contributions", s.reportContributionHandler).Methods("POST")
	router.HandleFunc("/contributions/{id}/approve", s.approveContributionHandler).Methods("POST")
	router.HandleFunc("/contributions/{id}/reject", s.rejectContributionHandler).Methods("POST")

	router.HandleFunc("/reports/fund", s.fundReportHandler).Methods("GET")
	return router
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, ".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize SQLite Store
	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath, zlog.Named("store"))
	if err != nil {
		zlog.Fatal("failed to initialize SQLite store", zap.Error(err))
	}
	defer sqliteStore.Close()

	l := ledger.NewLedger(sqliteStore, ledger.WithLogger(zlog.Named("ledger")), ledger.WithPolicy(cfg.Policy))
	server := NewServer(sqliteStore, l, zlog.Named("api"))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		zlog.Info("server starting", zap.String("addr", cfg.HTTPAddr), zap.String("db", cfg.DBPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
	zlog.Info("server stopped")
}

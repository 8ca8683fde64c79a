package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/database"
	"github.com/stemsi/exstem-evaluation/internal/logger"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/repository"
	"github.com/stemsi/exstem-evaluation/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		evaluationArg string
		candidate     string
		expiryHours   int
		askSecret     bool
	)
	flag.StringVar(&evaluationArg, "evaluation", "", "Evaluation ID")
	flag.StringVar(&candidate, "candidate", "", "Candidate identity")
	flag.IntVar(&expiryHours, "expiry-hours", 0, "Token lifetime in hours (default INVITE_EXPIRY_HOURS)")
	flag.BoolVar(&askSecret, "ask-secret", false, "Prompt for the signing secret instead of reading JWT_SECRET")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	if evaluationArg == "" {
		fmt.Print("Enter Evaluation ID: ")
		evaluationArg, _ = reader.ReadString('\n')
	}
	evaluationID, err := uuid.Parse(strings.TrimSpace(evaluationArg))
	if err != nil {
		fmt.Println("Error: Evaluation ID must be a UUID")
		os.Exit(1)
	}

	if candidate == "" {
		fmt.Print("Enter Candidate: ")
		candidate, _ = reader.ReadString('\n')
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		fmt.Println("Error: Candidate is required")
		os.Exit(1)
	}

	if askSecret {
		fmt.Print("Enter Signing Secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading secret")
			os.Exit(1)
		}
		if len(secret) < 16 {
			fmt.Println("Error: Secret must be at least 16 characters")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}

	// ─── Check the evaluation ──────────────────────────────────────────
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	evaluation, err := repository.NewEvaluationRepository(pool).GetByID(ctx, evaluationID)
	if err != nil {
		log.Fatal().Err(err).Str("evaluation_id", evaluationID.String()).Msg("Evaluation not found")
	}
	if evaluation.Status != model.EvaluationStatusPublished {
		log.Warn().Str("status", string(evaluation.Status)).Msg("Evaluation is not published yet; the token will be rejected until it is")
	}

	// ─── Issue ─────────────────────────────────────────────────────────
	// Revocation lives in Redis and is not needed to sign.
	invites := service.NewInviteService(cfg, nil)
	token, claims, err := invites.Issue(evaluationID, candidate, time.Duration(expiryHours)*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue access token")
	}

	fmt.Printf("\nAccess token for %s on %q (expires %s):\n%s\n",
		claims.Candidate, evaluation.Title, claims.ExpiresAt.Time.Format(time.RFC3339), token)
}

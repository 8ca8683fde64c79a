package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/database"
	"github.com/stemsi/exstem-evaluation/internal/logger"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/repository"
	"github.com/stemsi/exstem-evaluation/internal/service"
	"github.com/stemsi/exstem-evaluation/internal/validator"
)

func main() {
	var (
		file    string
		publish bool
	)
	flag.StringVar(&file, "file", "", "Path to the evaluation definition JSON")
	flag.BoolVar(&publish, "publish", false, "Publish the evaluation immediately")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if file == "" {
		fmt.Println("Usage: seed-evaluation -file evaluation.json [-publish]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read definition")
	}
	var req model.CreateEvaluationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Definition is not valid JSON")
	}
	if publish {
		req.Publish = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	evaluationService := service.NewEvaluationService(
		repository.NewEvaluationRepository(pool),
		repository.NewQuestionRepository(pool),
		service.NewInviteService(cfg, rdb),
		rdb,
		cfg.DefinitionTTL,
		log,
	)

	evaluation, err := evaluationService.Create(ctx, &req)
	if err != nil {
		var fields validator.FieldsError
		if errors.As(err, &fields) {
			for field, msg := range fields {
				log.Error().Str("field", field).Msg(msg)
			}
		}
		log.Fatal().Err(err).Msg("Failed to create evaluation")
	}

	fmt.Printf("Evaluation %q created\n", evaluation.Title)
	fmt.Printf("  id:        %s\n", evaluation.ID)
	fmt.Printf("  status:    %s\n", evaluation.Status)
	fmt.Printf("  questions: %d\n", len(req.Questions))
}

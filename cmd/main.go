package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"line-agent/handler"
	"line-agent/internal/integrations/lineapi"
	"line-agent/internal/integrations/openai"
	"line-agent/internal/integrations/paramstore"
	"line-agent/internal/integrations/xai"
	"line-agent/internal/invoker"
	"line-agent/internal/repository"
	"line-agent/internal/stages"
	"line-agent/internal/workflow"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	conversationTable := mustEnv("CONVERSATION_TABLE_NAME")
	paramPrefix := mustEnv("PARAM_PREFIX")
	primaryModel := envStr("PRIMARY_MODEL", "DeepSeek-V3-0324")
	augmentedModel := envStr("AUGMENTED_MODEL", "grok-4")
	historyCap := envInt("HISTORY_CAP", 20)
	retention := envDuration("CONVERSATION_RETENTION", 24*time.Hour)
	deadline := envDuration("EXECUTION_DEADLINE", 5*time.Minute)
	maxConcurrent := envInt("MAX_CONCURRENT_EXECUTIONS", 8)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), conversationTable,
		repository.WithRetention(retention), repository.WithHistoryCap(historyCap))
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	primaryClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create primary completion client", "err", err)
		os.Exit(1)
	}
	searchClient, err := xai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create search client", "err", err)
		os.Exit(1)
	}
	lineClient, err := lineapi.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create LINE client", "err", err)
		os.Exit(1)
	}

	// ---- Stages ----
	primary, err := stages.NewPrimaryCompletion(primaryClient, primaryModel, slog.Default())
	if err != nil {
		slog.Error("failed to create primary stage", "err", err)
		os.Exit(1)
	}
	augmented, err := stages.NewToolAugmentedCompletion(searchClient, augmentedModel)
	if err != nil {
		slog.Error("failed to create augmented stage", "err", err)
		os.Exit(1)
	}
	notice, err := stages.NewInterimNotice(lineClient)
	if err != nil {
		slog.Error("failed to create notice stage", "err", err)
		os.Exit(1)
	}
	finalSend, err := stages.NewFinalSend(lineClient)
	if err != nil {
		slog.Error("failed to create final-send stage", "err", err)
		os.Exit(1)
	}
	directSend, err := stages.NewDirectSend(lineClient)
	if err != nil {
		slog.Error("failed to create direct-send stage", "err", err)
		os.Exit(1)
	}

	// ---- Workflow ----
	def := workflow.Definition{
		Primary:    primary,
		Notice:     notice,
		Augmented:  augmented,
		FinalSend:  finalSend,
		DirectSend: directSend,
		Deadline:   deadline,
	}
	engine, err := workflow.NewEngine(def, invoker.New(nil, slog.Default()), store, slog.Default())
	if err != nil {
		slog.Error("failed to create workflow engine", "err", err)
		os.Exit(1)
	}
	dispatcher, err := workflow.NewDispatcher(engine, slog.Default(),
		workflow.WithMaxConcurrent(maxConcurrent))
	if err != nil {
		slog.Error("failed to create dispatcher", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(dispatcher, slog.Default())
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

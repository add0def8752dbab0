// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AltitudeWarning/services/llm"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/policy"
)

var (
	ingestSource string

	ingestCmd = &cobra.Command{
		Use:   "ingest [file]...",
		Short: "Chunk, embed and store policy documents in Weaviate",
		Long: `Reads plain-text policy documents (pages separated by form feeds), splits
them into chunks, embeds each chunk and stores it in the PolicyChunk class.
Re-ingesting the same text overwrites the same objects.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}
)

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source name stored with each chunk (default: file name)")
}

func runIngest(cmd *cobra.Command, files []string) error {
	if ingestSource != "" && len(files) > 1 {
		return errors.New("--source applies to a single file")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Policy.WeaviateURL == "" {
		return errors.New("WEAVIATE_SERVICE_URL is not set")
	}
	if err := cfg.LoadSecrets(); err != nil {
		return err
	}
	apiKey, err := cfg.Secrets.OpenAIKey.Reveal()
	if err != nil {
		return fmt.Errorf("openai api key: %w", err)
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	embedder, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:            apiKey,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		BaseURL:           cfg.LLM.BaseURL,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		Logger:            logger.Slog(),
	})
	if err != nil {
		return err
	}

	storeCfg := policy.DefaultStoreConfig()
	storeCfg.URL = cfg.Policy.WeaviateURL
	storeCfg.Logger = logger.Slog()
	if cfg.Secrets.WeaviateKey.IsSet() {
		if storeCfg.APIKey, err = cfg.Secrets.WeaviateKey.Reveal(); err != nil {
			return err
		}
	}
	store, err := policy.NewStore(storeCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ingester := policy.NewIngester(store, embedder, logger.Slog())
	total := 0
	for _, file := range files {
		text, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		source := ingestSource
		if source == "" {
			source = filepath.Base(file)
		}
		n, err := ingester.IngestText(cmd.Context(), source, string(text))
		if err != nil {
			return fmt.Errorf("ingest %s: %w", file, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", source, n)
		total += n
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d files\n", total, len(files))
	return nil
}

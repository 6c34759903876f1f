// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package embed

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// Config holds OpenAI embedding settings.
type Config struct {
	APIKey     string
	Model      string // defaults to text-embedding-3-small
	Dimensions int    // defaults to 1536
	BaseURL    string // optional, useful for testing against a mock server
}

// OpenAI implements Embedder using the OpenAI embeddings API.
type OpenAI struct {
	client openaisdk.Client
	model  string
	dims   int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder. Returns an error if the API key
// is missing.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, lcerr.New(lcerr.CodeEmbedFailure, "openai: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}

	return &OpenAI{
		client: openaisdk.NewClient(opts...),
		model:  model,
		dims:   dims,
	}, nil
}

func (o *OpenAI) Dimensions() int { return o.dims }

// Embed generates one vector per text, preserving input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input:      openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openaisdk.EmbeddingModel(o.model),
		Dimensions: openaisdk.Int(int64(o.dims)),
	})
	if err != nil {
		return nil, lcerr.Wrap(err, lcerr.CodeEmbedFailure, "requesting embeddings")
	}
	if len(resp.Data) != len(texts) {
		return nil, lcerr.Errorf(lcerr.CodeEmbedFailure,
			"embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for i, f := range item.Embedding {
			vec[i] = float32(f)
		}
		out[item.Index] = vec
	}
	return out, nil
}

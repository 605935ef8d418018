package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/cache"
	"github.com/BaSui01/mailflow/internal/metrics"
	"github.com/BaSui01/mailflow/types"
)

// Embedder is the slice of the model surface the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// RelatedMessage is one semantically similar message pulled from the
// vector index.
type RelatedMessage struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// ContextBundle is everything the classifier gets to see besides the
// message itself. It is checkpointed verbatim so a resumed workflow never
// re-runs retrieval.
type ContextBundle struct {
	Thread  []types.ThreadMessage `json:"thread"`
	Related []RelatedMessage      `json:"related"`
	K       int                   `json:"k"`
	Tokens  int                   `json:"tokens"`
}

// Retriever assembles the context bundle. Neighbour count adapts to how
// much signal the thread itself already carries: short threads lean on
// the index, long threads are self-sufficient.
type Retriever struct {
	cfg      config.RAGConfig
	embedder Embedder
	index    VectorIndex
	cache    *cache.EmbeddingCache
	metrics  *metrics.Collector
	encoder  *tiktoken.Tiktoken
	logger   *zap.Logger
}

// NewRetriever builds a retriever. The embedding cache is optional; a nil
// cache means every embedding is computed fresh.
func NewRetriever(cfg config.RAGConfig, embedder Embedder, index VectorIndex, embCache *cache.EmbeddingCache, collector *metrics.Collector, logger *zap.Logger) (*Retriever, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoder, err := tiktoken.GetEncoding(cfg.TokenizerEncoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding %q: %w", cfg.TokenizerEncoding, err)
	}
	return &Retriever{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		cache:    embCache,
		metrics:  collector,
		encoder:  encoder,
		logger:   logger.With(zap.String("component", "retriever")),
	}, nil
}

// NeighbourCount maps thread length onto the number of index neighbours
// to fetch.
func (r *Retriever) NeighbourCount(threadLen int) int {
	switch {
	case threadLen < r.cfg.SparseThreadLen:
		return r.cfg.SparseNeighbors
	case threadLen <= r.cfg.DenseThreadLen:
		return r.cfg.MediumNeighbors
	default:
		return 0
	}
}

// Retrieve builds the context bundle for an item given its thread
// history. Index failures degrade to a thread-only bundle; retrieval
// never blocks the workflow.
func (r *Retriever) Retrieve(ctx context.Context, item types.WorkItem, thread []types.ThreadMessage) *ContextBundle {
	bundle := &ContextBundle{Thread: thread, K: r.NeighbourCount(len(thread))}

	if bundle.K > 0 {
		related, err := r.searchRelated(ctx, item, bundle.K)
		if err != nil {
			r.logger.Warn("related-message search failed, continuing with thread only",
				zap.String("work_item_id", item.ID), zap.Error(err))
		} else {
			bundle.Related = related
		}
	}

	r.truncate(bundle)
	return bundle
}

func (r *Retriever) searchRelated(ctx context.Context, item types.WorkItem, k int) ([]RelatedMessage, error) {
	query := item.Subject + "\n" + item.BodyPreview
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(item.UserID, vec, k)
	if err != nil {
		return nil, err
	}

	related := make([]RelatedMessage, 0, len(hits))
	for _, hit := range hits {
		text, ok := r.index.Text(item.UserID, hit.ID)
		if !ok {
			continue
		}
		related = append(related, RelatedMessage{ID: hit.ID, Text: text, Score: hit.Score})
	}
	return related, nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float64, error) {
	if r.cache != nil {
		if vec, ok := r.cache.Get(ctx, text); ok {
			if r.metrics != nil {
				r.metrics.CacheHit("embedding")
			}
			return vec, nil
		}
		if r.metrics != nil {
			r.metrics.CacheMiss("embedding")
		}
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if cerr := r.cache.Set(ctx, text, vec); cerr != nil {
			r.logger.Debug("embedding cache write failed", zap.Error(cerr))
		}
	}
	return vec, nil
}

// truncate trims the bundle to the token budget, dropping the oldest
// thread messages first and then the lowest-scoring related messages.
func (r *Retriever) truncate(bundle *ContextBundle) {
	budget := r.cfg.TokenBudget
	for {
		bundle.Tokens = len(r.encoder.Encode(bundle.Render(), nil, nil))
		if bundle.Tokens <= budget {
			return
		}
		switch {
		case len(bundle.Thread) > 1:
			// Thread arrives newest-first; drop from the tail.
			bundle.Thread = bundle.Thread[:len(bundle.Thread)-1]
		case len(bundle.Related) > 0:
			bundle.Related = bundle.Related[:len(bundle.Related)-1]
		default:
			r.trimLastThreadMessage(bundle, budget)
			return
		}
	}
}

// trimLastThreadMessage cuts the body of the sole remaining message so
// the rendered bundle fits the budget.
func (r *Retriever) trimLastThreadMessage(bundle *ContextBundle, budget int) {
	if len(bundle.Thread) == 0 {
		bundle.Tokens = 0
		return
	}
	msg := &bundle.Thread[0]
	tokens := r.encoder.Encode(msg.Body, nil, nil)
	for len(tokens) > 0 {
		bundle.Tokens = len(r.encoder.Encode(bundle.Render(), nil, nil))
		if bundle.Tokens <= budget {
			return
		}
		cut := len(tokens) / 2
		tokens = tokens[:cut]
		msg.Body = r.encoder.Decode(tokens)
	}
	bundle.Tokens = len(r.encoder.Encode(bundle.Render(), nil, nil))
}

// Render flattens the bundle into the text block handed to the model.
func (b *ContextBundle) Render() string {
	if len(b.Thread) == 0 && len(b.Related) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, msg := range b.Thread {
		fmt.Fprintf(&sb, "[thread] %s: %s\n%s\n", msg.Sender, msg.Subject, msg.Body)
	}
	for _, rel := range b.Related {
		fmt.Fprintf(&sb, "[related] %s\n", rel.Text)
	}
	return sb.String()
}

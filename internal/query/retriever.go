package query

import (
	"context"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/fusion"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/vector/milvus"
)

// MilvusRetriever adapts the vector store client to the fusion contract.
type MilvusRetriever struct {
	client *milvus.Client
}

func NewMilvusRetriever(client *milvus.Client) *MilvusRetriever {
	return &MilvusRetriever{client: client}
}

func (r *MilvusRetriever) Retrieve(ctx context.Context, embedding []float32, text string, k int, threshold float64) ([]fusion.Evidence, error) {
	results, err := r.client.Search(ctx, embedding, k, threshold)
	if err != nil {
		return nil, err
	}
	return toEvidence(results), nil
}

func (r *MilvusRetriever) RetrieveByIdentifier(ctx context.Context, tokens []string, limit int) ([]fusion.Evidence, error) {
	results, err := r.client.SearchByIdentifier(ctx, tokens, limit)
	if err != nil {
		return nil, err
	}
	return toEvidence(results), nil
}

func toEvidence(results []milvus.SearchResult) []fusion.Evidence {
	evidence := make([]fusion.Evidence, 0, len(results))
	for _, r := range results {
		evidence = append(evidence, fusion.Evidence{
			ID:          r.ChunkID,
			Content:     r.Text,
			Similarity:  r.Similarity,
			VectorScore: r.Similarity,
			SourceLabel: sourceLabel(r),
		})
	}
	return evidence
}

func sourceLabel(r milvus.SearchResult) string {
	label := r.Filename
	if r.Title != "" {
		label = r.Title
	}
	if r.Folder != "" {
		label = r.Folder + "/" + label
	}
	return label
}

package retrieval

import (
	"context"
	"github.com/embereye/docpilot/settings"
	qdrantgo "github.com/henomis/qdrant-go"
	"github.com/henomis/qdrant-go/request"
	"github.com/henomis/qdrant-go/response"
	"sync"
)

type QdrantIndex struct {
	client     *qdrantgo.Client
	collection string

	// chunk payloads are kept process-side, qdrant only stores vectors
	payloadsLock sync.RWMutex
	payloads     map[string]chunkPayload
}

type chunkPayload struct {
	docId string
	text  string
}

func NewQdrantIndex(config *settings.VectorDBConfigurationSection) (Index, error) {
	client := qdrantgo.New(config.Endpoint, config.APIToken)

	return &QdrantIndex{
		client:     client,
		collection: config.Collection,
		payloads:   make(map[string]chunkPayload),
	}, nil
}

func (q *QdrantIndex) EnsureCollection(params *CollectionParameters) error {
	resp := &response.CollectionCreate{}
	err := q.client.CollectionCreate(
		context.Background(),
		&request.CollectionCreate{
			CollectionName: q.collection,
			Vectors: request.VectorsParams{
				Size:     params.Dimensions,
				Distance: request.Distance(params.DistanceMeasure),
			},
		},
		resp,
	)

	return err
}

func (q *QdrantIndex) AddChunkEmbedding(chunk *ChunkEmbedding) error {
	resp := &response.PointUpsert{
		Response: response.Response{},
		Result:   response.PointOperationResult{},
	}

	wait := true
	err := q.client.PointUpsert(
		context.Background(),
		&request.PointUpsert{
			CollectionName: q.collection,
			Wait:           &wait,
			Points: []request.Point{
				{
					ID:     chunk.ChunkId,
					Vector: chunk.VecF64,
					Payload: map[string]interface{}{
						"doc-id": chunk.DocId,
						"text":   chunk.Text,
					},
				},
			},
		},
		resp)
	if err != nil {
		return err
	}

	q.payloadsLock.Lock()
	q.payloads[chunk.ChunkId] = chunkPayload{docId: chunk.DocId, text: chunk.Text}
	q.payloadsLock.Unlock()

	return nil
}

func (q *QdrantIndex) Search(vector []float64, k int) ([]SearchHit, error) {
	resp := &response.PointSearch{}

	err := q.client.PointSearch(context.Background(), &request.PointSearch{
		CollectionName: q.collection,
		Consistency:    nil,
		Vector:         vector,
		Filter:         request.Filter{},
		Params:         nil,
		Limit:          k,
		Offset:         0,
		WithPayload:    nil,
		WithVector:     nil,
		ScoreThreshold: nil,
	}, resp)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(resp.Result))
	q.payloadsLock.RLock()
	for idx, point := range resp.Result {
		hits[idx] = SearchHit{
			ChunkId: point.ID,
			Score:   float32(point.Score),
		}
		if payload, ok := q.payloads[point.ID]; ok {
			hits[idx].DocId = payload.docId
			hits[idx].Text = payload.text
		}
	}
	q.payloadsLock.RUnlock()

	return hits, nil
}

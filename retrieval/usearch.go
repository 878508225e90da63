package retrieval

import (
	"fmt"
	usearch "github.com/unum-cloud/usearch/golang"
	"sync"
)

// UsearchIndex keeps vectors in-process. Cheap to stand up, no extra service;
// the default backend when no qdrant section is configured.
type UsearchIndex struct {
	lock    sync.Mutex
	index   *usearch.Index
	nextKey usearch.Key
	chunks  map[usearch.Key]*ChunkEmbedding
	dims    uint
}

func NewUsearchIndex() *UsearchIndex {
	return &UsearchIndex{
		chunks: make(map[usearch.Key]*ChunkEmbedding),
	}
}

func (u *UsearchIndex) EnsureCollection(params *CollectionParameters) error {
	u.lock.Lock()
	defer u.lock.Unlock()

	if u.index != nil {
		return nil
	}

	conf := usearch.DefaultConfig(uint(params.Dimensions))
	index, err := usearch.NewIndex(conf)
	if err != nil {
		return fmt.Errorf("error creating usearch index: %v", err)
	}

	u.index = index
	u.dims = uint(params.Dimensions)
	return nil
}

func (u *UsearchIndex) AddChunkEmbedding(chunk *ChunkEmbedding) error {
	u.lock.Lock()
	defer u.lock.Unlock()

	if u.index == nil {
		return fmt.Errorf("collection is not initialized")
	}
	if uint(len(chunk.VecF64)) != u.dims {
		return fmt.Errorf("vector has %d dims, index expects %d", len(chunk.VecF64), u.dims)
	}

	u.nextKey++
	key := u.nextKey
	err := u.index.Add(key, toFloat32(chunk.VecF64))
	if err != nil {
		return fmt.Errorf("error adding vector for chunk %s: %v", chunk.ChunkId, err)
	}

	u.chunks[key] = chunk
	return nil
}

func (u *UsearchIndex) Search(vector []float64, k int) ([]SearchHit, error) {
	u.lock.Lock()
	defer u.lock.Unlock()

	if u.index == nil {
		return nil, fmt.Errorf("collection is not initialized")
	}

	keys, distances, err := u.index.Search(toFloat32(vector), uint(k))
	if err != nil {
		return nil, fmt.Errorf("error searching index: %v", err)
	}

	hits := make([]SearchHit, 0, len(keys))
	for idx, key := range keys {
		chunk, ok := u.chunks[key]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{
			ChunkId: chunk.ChunkId,
			DocId:   chunk.DocId,
			Text:    chunk.Text,
			Score:   -distances[idx],
		})
	}

	return hits, nil
}

func toFloat32(v []float64) []float32 {
	result := make([]float32, len(v))
	for idx, val := range v {
		result[idx] = float32(val)
	}
	return result
}

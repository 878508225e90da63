package retrieval

type ChunkEmbedding struct {
	DocId   string
	ChunkId string
	Text    string
	VecF64  []float64
}

type SearchHit struct {
	ChunkId string
	DocId   string
	Text    string
	Score   float32
}

type DistanceMeasureType string

const (
	DistanceCosine    DistanceMeasureType = "Cosine"
	DistanceEuclidean DistanceMeasureType = "Euclid"
	DistanceDot       DistanceMeasureType = "Dot"
)

type CollectionParameters struct {
	Dimensions      uint64
	DistanceMeasure DistanceMeasureType
}

// Index is the retrieval engine as seen by the compute coordinator: an opaque
// synchronous dependency. Chunking and diversification live behind it.
type Index interface {
	EnsureCollection(params *CollectionParameters) error
	AddChunkEmbedding(chunk *ChunkEmbedding) error
	Search(vector []float64, k int) ([]SearchHit, error)
}

package domain

// LargeChunk is a section-scale slice of a document's text. It is owned
// exclusively by one document and cascade-deleted with it.
type LargeChunk struct {
	ID         string
	DocumentID string
	Position   int
	Text       string
}

// LargeChunkSummary is a short abstractive summary of exactly one large
// chunk, carrying one embedding vector.
type LargeChunkSummary struct {
	ID           string
	LargeChunkID string
	DocumentID   string
	Text         string
	Embedding    []float32
}

// SmallChunk is a sentence/paragraph-scale slice of a large chunk's text,
// carrying one embedding vector.
type SmallChunk struct {
	ID           string
	LargeChunkID string
	DocumentID   string
	Position     int
	Text         string
	Embedding    []float32
}

// RetrievedContext is one ranked retrieval result: the source large chunk
// plus its similarity sub-scores, fused score and rerank score.
type RetrievedContext struct {
	Chunk           *LargeChunk
	DocumentTitle   string
	SummaryScore    float64
	SmallChunkScore float64
	CombinedScore   float64
	RerankScore     float64
}

package model

// ComputeShard is a unit of neural-inference work: a contiguous layer range of
// a larger model applied to an input tensor blob.
type ComputeShard struct {
	ID         string `json:"id"`
	ModelHash  string `json:"modelHash"`
	StartLayer int    `json:"startLayer"`
	EndLayer   int    `json:"endLayer"`
	InputData  []byte `json:"inputData"`
	PreferGPU  bool   `json:"preferGpu,omitempty"`
}

// ShardResult is the signed outcome of processing a shard.
type ShardResult struct {
	ShardID           string `json:"shardId"`
	NodeID            string `json:"nodeId"`
	OutputData        []byte `json:"outputData"`
	ComputeTimeMs     int64  `json:"computeTimeMs"`
	Signature         []byte `json:"signature"`
	ExecutionProvider string `json:"executionProvider"`
	MemoryUsedMb      int64  `json:"memoryUsedMb"`
}

// ComputeCapabilities is the engine's read-only capability summary, computed
// once at construction and advertised in the registration manifest.
type ComputeCapabilities struct {
	Backends       []string `json:"backends"`
	CachedModels   []string `json:"cachedModels"`
	MaxModelSizeMb int64    `json:"maxModelSizeMb"`
	MaxBatch       int      `json:"maxBatch"`
}

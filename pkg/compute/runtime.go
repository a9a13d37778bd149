package compute

import "fmt"

// Session is a loaded model ready to run forward passes.
type Session interface {
	Run(input []byte) ([]byte, error)
	Close() error
}

// Runtime is the injectable inference backend. The engine treats tensor math
// as opaque: load a file with a named execution provider, run bytes through.
type Runtime interface {
	Load(path, provider string) (Session, error)
	Providers() []string
}

// unavailableRuntime is used when no inference runtime is installed. Every
// load fails, so every shard takes the deterministic fallback path and the
// node stays schema-compatible with the mesh.
type unavailableRuntime struct{}

func (unavailableRuntime) Load(path, provider string) (Session, error) {
	return nil, fmt.Errorf("no inference runtime available (provider %s)", provider)
}

func (unavailableRuntime) Providers() []string { return []string{"cpu"} }

package cmd

import (
	"strings"

	"github.com/veloflow/veloflow/pkg/persistence"
	"github.com/veloflow/veloflow/pkg/persistence/file"
	"github.com/veloflow/veloflow/pkg/persistence/memory"
)

// NewPersistence builds a persistence backend from a database URL. file://
// paths get the file store; "memory" keeps everything in process for tests
// and local runs.
func NewPersistence(databaseURL string) (persistence.Persistence, error) {
	switch persistenceProvider(databaseURL) {
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return file.NewPersistence(databaseURL)
	}
}

func persistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}

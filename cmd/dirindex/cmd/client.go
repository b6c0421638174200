package cmd

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/Aman-CERP/dirindex/internal/config"
	"github.com/Aman-CERP/dirindex/internal/daemon"
	"github.com/Aman-CERP/dirindex/internal/errors"
)

// clientTimeout bounds CLI calls to the server.
const clientTimeout = 10 * time.Second

// connect returns a client for the running server.
func connect(cfg *config.Config) (*daemon.Client, error) {
	client := daemon.NewClient(cfg.SocketPath(), clientTimeout)
	if !client.IsRunning() {
		return nil, errors.New(errors.ErrCodeInternal, "dirindex server is not running", nil).
			WithDetail("socket", cfg.SocketPath()).
			WithSuggestion("Start it with 'dirindex serve'")
	}
	return client, nil
}

// defaultOwner identifies CLI requests in the index and the audit log.
func defaultOwner() string {
	if user := os.Getenv("USER"); user != "" {
		return "cli:" + user
	}
	return "cli"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package server

import "github.com/raysh454/scanflow/internal/logging"

type Config struct {
	// ListenAddr is the HTTP listen address for the local API.
	ListenAddr string

	// HistoryLimit caps GET /history when no limit is given. Zero means 50.
	HistoryLimit int

	Logger logging.Logger
}

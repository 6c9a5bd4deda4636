package api

import (
	"time"

	"github.com/stockrelay/stockrelay/server/internal/store"
)

// ListResponse is the payload for GET /api/stock without an id.
type ListResponse struct {
	Data        []store.Entry `json:"data"`
	Count       int           `json:"count"`
	LastCleanup time.Time     `json:"lastCleanup"`
	Access      string        `json:"access,omitempty"` // "public" when read via the public flag
}

// SessionDeleteResponse is the payload for DELETE /api/stock with a session body.
type SessionDeleteResponse struct {
	Success      bool   `json:"success"`
	DeletedCount int    `json:"deletedCount"`
	Reason       string `json:"reason"`
}

// DeleteResponse is the payload for DELETE /api/stock?id=.
type DeleteResponse struct {
	Success bool        `json:"success"`
	Deleted store.Entry `json:"deleted"`
}

// TouchResponse is the payload for PATCH /api/stock.
type TouchResponse struct {
	Success     bool      `json:"success"`
	ID          string    `json:"id"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// HealthResponse is the payload for GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Entries int    `json:"entries"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

package models

import (
	"encoding/json"
	"time"
)

// Document is a single content record as stored in an entity table. The
// payload is schemaless JSON; the admin panel owns its shape, this service
// only snapshots and replays it.
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

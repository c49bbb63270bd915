package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/realm"
)

// TouchRequest is the request body for creating or touching a node.
type TouchRequest struct {
	Name string `json:"name" example:"ideas/inbox" validate:"required"`
}

// Validate implements validation.Validatable.
func (r TouchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 1024)),
	)
}

// MoveRequest is the request body for moving a node.
type MoveRequest struct {
	From string `json:"from" example:"inbox" validate:"required"`
	To   string `json:"to" example:"archive/inbox" validate:"required"`
}

// Validate implements validation.Validatable.
func (r MoveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.From, validation.Required, validation.Length(1, 1024)),
		validation.Field(&r.To, validation.Required, validation.Length(1, 1024)),
	)
}

// NodeListResponse wraps node listings.
type NodeListResponse struct {
	Nodes []models.Node `json:"nodes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// NamesResponse wraps the known names.
type NamesResponse struct {
	Names []string `json:"names" validate:"required"`
}

// TouchResponse reports the touched node and whether it was created.
type TouchResponse struct {
	Node    models.Node `json:"node" validate:"required"`
	Created bool        `json:"created"`
}

// PathResponse carries a node's file path.
type PathResponse struct {
	Path string `json:"path" example:"notes/hello.md" validate:"required"`
}

// UnresolvedResponse wraps the broken and ambiguous links of the realm.
type UnresolvedResponse struct {
	Links []realm.BrokenLink `json:"links" validate:"required"`
}

// StatsResponse reports the index generation and the last reindex pass.
type StatsResponse struct {
	Root       string       `json:"root" validate:"required"`
	Generation uint64       `json:"generation" example:"7"`
	Nodes      int          `json:"nodes" example:"42"`
	Last       models.Stats `json:"last"`
}

package api

import (
	"context"

	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/realm"
)

// Realm is the part of *realm.Realm the API serves.
type Realm interface {
	Root() string
	Generation() uint64
	Stats() models.Stats
	Nodes() []models.Node
	KnownNames() []string
	Resolve(name string) (models.Node, error)
	Backlinks(name string) (*realm.ResultSet, error)
	ForwardLinks(name string) (*realm.ResultSet, error)
	Unresolved() []realm.BrokenLink
	Path(name string, absolute bool) (string, error)
	Reindex(ctx context.Context, opts ...realm.ReindexOption) (models.Stats, error)
	Touch(ctx context.Context, name string) (models.Node, bool, error)
	Remove(ctx context.Context, name string) (models.Node, error)
	Move(ctx context.Context, from, to string) (*realm.MoveResult, error)
}

var _ Realm = (*realm.Realm)(nil)

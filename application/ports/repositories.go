package ports

import (
	"context"
	"time"

	"mindmeld/domain/core/entities"
)

// DocumentRecord is the persisted shape of a mind map: exactly the four
// fields the core exposes for saving plus identity and bookkeeping. History
// and collapse state are deliberately absent.
type DocumentRecord struct {
	ID              string               `json:"id"`
	OwnerID         string               `json:"owner_id"`
	Title           string               `json:"title"`
	Nodes           []entities.Node      `json:"nodes"`
	Edges           []entities.Edge      `json:"edges"`
	EdgeRenderStyle entities.RenderStyle `json:"edge_render_style"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// DocumentRepository loads and stores document records. The core treats
// persistence as an external collaborator: it only reads the current state
// out and accepts a full replacement on load.
type DocumentRepository interface {
	Load(ctx context.Context, id string) (*DocumentRecord, error)
	Save(ctx context.Context, record *DocumentRecord) error
	List(ctx context.Context, ownerID string) ([]*DocumentRecord, error)
}

// Participant identifies the local user for a session
type Participant struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// IdentityProvider supplies the local participant's identity at session
// start. Remote participants' identities are never looked up; they arrive in
// presence metadata.
type IdentityProvider interface {
	Local(ctx context.Context) (Participant, error)
}

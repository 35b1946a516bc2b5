package delivery

import "context"

type (
	// Record is the persisted form of an unacknowledged item. Frame holds the
	// encoded client envelope.
	Record struct {
		ID        string `json:"id"`
		DependsOn string `json:"depends_on,omitempty"`
		Seq       uint64 `json:"seq"`
		Frame     []byte `json:"frame"`
	}

	// Journal stores unacknowledged items per owning identity.
	Journal interface {
		Append(ctx context.Context, owner string, rec Record) error
		Remove(ctx context.Context, owner string, id string) error
		Load(ctx context.Context, owner string) ([]Record, error)
	}
)

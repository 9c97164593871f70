package audit

import (
	"context"
)

type Store interface {
	Append(ctx context.Context, event Event) error
	ListByVisitor(ctx context.Context, visitor string) ([]Event, error)
}

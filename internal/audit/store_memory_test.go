package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreBoundsTrail(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	for i := range MaxPerVisitor + 5 {
		require.NoError(t, store.Append(ctx, Event{Visitor: "v1", Action: ActionDataExported, RequestID: fmt.Sprint(i)}))
	}
	require.NoError(t, store.Append(ctx, Event{Visitor: "v2", Action: ActionDataDeleted}))

	events, err := store.ListByVisitor(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, events, MaxPerVisitor)
	assert.Equal(t, "5", events[0].RequestID)
	assert.Equal(t, fmt.Sprint(MaxPerVisitor+4), events[MaxPerVisitor-1].RequestID)

	other, err := store.ListByVisitor(ctx, "v2")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	store.Clear()
	events, err = store.ListByVisitor(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

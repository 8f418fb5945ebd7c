package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costera/costera/internal/conversation"
	"github.com/costera/costera/internal/testutil"
)

func TestStoreCreateAndGet(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := conversation.NewStore(db.Pool, testutil.DiscardLogger())

	id := uuid.New()
	owner := uuid.New()
	created, err := store.Create(ctx, id, owner, "Weekend plans")
	require.NoError(t, err)
	assert.Equal(t, id, created.ID)
	assert.Equal(t, owner, created.OwnerID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Weekend plans", got.Title)

	_, err = store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestStoreDuplicateCreateIsUniqueViolation(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := conversation.NewStore(db.Pool, testutil.DiscardLogger())

	id := uuid.New()
	_, err := store.Create(ctx, id, uuid.New(), "first")
	require.NoError(t, err)

	// The duplicate surfaces as the database's unique violation so the turn
	// controller can treat it as a benign race.
	_, err = store.Create(ctx, id, uuid.New(), "second")
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, pgerrcode.UniqueViolation, pgErr.Code)
}

func TestStoreListByOwner(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := conversation.NewStore(db.Pool, testutil.DiscardLogger())

	owner := uuid.New()
	first, err := store.Create(ctx, uuid.New(), owner, "first")
	require.NoError(t, err)
	second, err := store.Create(ctx, uuid.New(), owner, "second")
	require.NoError(t, err)
	_, err = store.Create(ctx, uuid.New(), uuid.New(), "someone else's")
	require.NoError(t, err)

	convs, err := store.ListByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	// Newest first.
	assert.Equal(t, second.ID, convs[0].ID)
	assert.Equal(t, first.ID, convs[1].ID)
}

func TestStoreAppendAndLoadTurns(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := conversation.NewStore(db.Pool, testutil.DiscardLogger())

	conv, err := store.Create(ctx, uuid.New(), uuid.New(), "turn history")
	require.NoError(t, err)

	require.NoError(t, store.AppendTurn(ctx, &conversation.Turn{
		ConversationID: conv.ID,
		Role:           conversation.RoleUser,
		Text:           "what's on this weekend?",
	}))

	generated := []conversation.Turn{
		{
			Role: conversation.RoleAssistant,
			Segments: []conversation.Segment{
				conversation.ToolCallSegment(conversation.ToolCall{
					Name:   "searchEvents",
					CallID: "c1",
					Args:   json.RawMessage(`{"category":"music"}`),
				}),
			},
		},
		{
			Role: conversation.RoleTool,
			Results: []conversation.ToolResult{{
				Type:     "tool-result",
				CallID:   "c1",
				ToolName: "searchEvents",
				Result:   json.RawMessage(`[]`),
			}},
		},
		{
			Role:     conversation.RoleAssistant,
			Segments: []conversation.Segment{conversation.TextSegment("Nothing scheduled, sadly.")},
		},
	}
	require.NoError(t, store.AppendTurns(ctx, conv.ID, generated))

	turns, err := store.Turns(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.Equal(t, "what's on this weekend?", turns[0].Text)

	require.Len(t, turns[1].Segments, 1)
	require.NotNil(t, turns[1].Segments[0].ToolCall)
	assert.Equal(t, "c1", turns[1].Segments[0].ToolCall.CallID)
	assert.JSONEq(t, `{"category":"music"}`, string(turns[1].Segments[0].ToolCall.Args))

	require.Len(t, turns[2].Results, 1)
	assert.Equal(t, "searchEvents", turns[2].Results[0].ToolName)

	assert.Equal(t, "Nothing scheduled, sadly.", turns[3].Segments[0].Text)
}

func TestStoreDeleteCascades(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := conversation.NewStore(db.Pool, testutil.DiscardLogger())

	conv, err := store.Create(ctx, uuid.New(), uuid.New(), "doomed")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, &conversation.Turn{
		ConversationID: conv.ID,
		Role:           conversation.RoleUser,
		Text:           "hello",
	}))

	require.NoError(t, store.Delete(ctx, conv.ID))

	_, err = store.Get(ctx, conv.ID)
	require.ErrorIs(t, err, conversation.ErrNotFound)

	turns, err := store.Turns(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.ErrorIs(t, store.Delete(ctx, conv.ID), conversation.ErrNotFound)
}

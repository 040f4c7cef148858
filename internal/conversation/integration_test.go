package conversation_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

func exerciseStore(t *testing.T, store conversation.Store) {
	t.Helper()
	ctx := context.Background()
	key := conversation.Key{UserID: uuid.NewString(), PersonaID: "yuna"}
	base := time.Now().UTC().Truncate(time.Millisecond)

	messages, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, messages)

	require.NoError(t, store.Append(ctx, key, []models.Message{
		{Role: models.RoleUser, Content: "안녕", Timestamp: base},
		{Role: models.RoleAssistant, Content: "응 안녕", Timestamp: base.Add(100 * time.Millisecond)},
	}))
	require.NoError(t, store.Append(ctx, key, []models.Message{
		{Role: models.RoleUser, Content: "뭐해", Timestamp: base.Add(time.Second)},
	}))

	messages, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, "뭐해", messages[2].Content)
	assert.True(t, messages[0].Timestamp.Equal(base))

	list, err := store.List(ctx, key.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].MessageCount)

	require.NoError(t, store.Reset(ctx, key))
	messages, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	pg, err := db.NewPostgres(context.Background(), utils.PostgresConfig{DSN: dsn, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer pg.Close()
	require.NoError(t, pg.EnsureSchema(context.Background()))

	exerciseStore(t, conversation.NewPostgresStore(pg.Pool))
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping mongo integration test")
	}

	m, err := db.NewMongo(context.Background(), utils.MongoConfig{
		URI:            uri,
		Database:       "wwb_chat_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer func() {
		ctx := context.Background()
		_ = m.Database.Drop(ctx)
		_ = m.Close(ctx)
	}()
	require.NoError(t, m.EnsureCollections(context.Background()))

	exerciseStore(t, conversation.NewMongoStore(m.Conversations))
}

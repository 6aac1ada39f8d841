package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger/ledgertest"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
)

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := ledgertest.Open(t)
	repo := outbox.NewRepository(conn)
	ctx := context.Background()

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Insert(conn.WithContext(ctx), event))

	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkFailedTx(conn, event.ID, errors.New("pubsub unavailable")))
	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	require.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)

	require.NoError(t, repo.DeadLetterTx(conn, stored, enums.DeadLetterExhausted, errors.New("gave up"), 3))
	pending, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Empty(t, pending, "parked rows are not fetched again")

	var letters []models.OutboxDeadLetter
	require.NoError(t, conn.Find(&letters).Error)
	require.Len(t, letters, 1)
	require.Equal(t, event.ID, letters[0].EventID)
	require.Equal(t, enums.DeadLetterExhausted, letters[0].Reason)
	require.Equal(t, 1, letters[0].AttemptCount)
	require.Equal(t, "gave up", *letters[0].ErrorMessage)
	require.JSONEq(t, string(event.Payload), string(letters[0].Payload))

	require.Error(t, repo.DeadLetterTx(conn, stored, enums.DeadLetterReason("bored"), nil, 3))
}

func TestTruncateErrorBoundsStoredText(t *testing.T) {
	long := strings.Repeat("x", 5000)
	require.Len(t, models.TruncateError(errors.New(long)), 1024)
	require.Empty(t, models.TruncateError(nil))
}

func TestDeletePublishedBeforeRespectsCutoffAndLimit(t *testing.T) {
	conn := ledgertest.Open(t)
	repo := outbox.NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-40 * 24 * time.Hour)
	cutoff := now.Add(-30 * 24 * time.Hour)

	insert := func(created time.Time, published *time.Time, attempts int) uuid.UUID {
		ev := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventOrderReleased,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			CreatedAt:     created,
			PublishedAt:   published,
			AttemptCount:  attempts,
		}
		require.NoError(t, repo.Insert(conn, ev))
		return ev.ID
	}
	insert(old, &old, 0)
	insert(old, &old, 0)
	insert(old, nil, 10)
	recent := insert(now, &now, 0)
	pending := insert(old, nil, 2)

	deleted, err := repo.DeletePublishedBefore(ctx, conn, cutoff, 10, 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted, "limit caps one chunk")

	deleted, err = repo.DeletePublishedBefore(ctx, conn, cutoff, 10, 2)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("created_at").Find(&remaining).Error)
	ids := map[uuid.UUID]bool{}
	for _, ev := range remaining {
		ids[ev.ID] = true
	}
	require.Len(t, remaining, 2)
	require.True(t, ids[recent], "recently published rows stay")
	require.True(t, ids[pending], "retryable rows stay")

	_, err = repo.DeletePublishedBefore(ctx, conn, cutoff, 10, 0)
	require.Error(t, err)
}

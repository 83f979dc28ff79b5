package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/db/dbtest"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func trialEvent(id uuid.UUID) Event {
	return Event{
		EventType:     enums.EventTrialActivated,
		AggregateType: enums.AggregateTrial,
		AggregateID:   id,
		Actor:         &ActorRef{UserID: "user-1", Kind: ActorUser},
		Data:          map[string]string{"trialId": id.String()},
	}
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	em := NewEmitter(NewRepository(conn), nil)
	em.now = func() time.Time { return t0 }
	id := uuid.New()

	err := db.NewFromConn(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		return em.Emit(context.Background(), tx, trialEvent(id))
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, id, row.AggregateID)
	assert.Equal(t, enums.EventTrialActivated, row.EventType)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.True(t, env.OccurredAt.Equal(t0))
	assert.Equal(t, ActorUser, env.Actor.Kind)
	assert.JSONEq(t, `{"trialId":"`+id.String()+`"}`, string(env.Data))
	_, err = uuid.Parse(env.EventID)
	assert.NoError(t, err)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	em := NewEmitter(NewRepository(conn), nil)
	boom := errors.New("state change failed")

	err := db.NewFromConn(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		require.NoError(t, em.Emit(context.Background(), tx, trialEvent(uuid.New())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejects(t *testing.T) {
	em := NewEmitter(NewRepository(nil), nil)
	assert.ErrorIs(t, em.Emit(context.Background(), nil, trialEvent(uuid.New())), errTxRequired)

	conn := dbtest.Open(t)
	err := em.Emit(context.Background(), conn, trialEvent(uuid.Nil))
	assert.ErrorContains(t, err, "no aggregate id")

	bad := trialEvent(uuid.New())
	bad.Data = func() {}
	assert.ErrorContains(t, em.Emit(context.Background(), conn, bad), "marshal")
}

func seed(t *testing.T, conn *gorm.DB, created time.Time, attempts int, published bool) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		EventType:     enums.EventTrialActivated,
		AggregateType: enums.AggregateTrial,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		CreatedAt:     created,
		AttemptCount:  attempts,
	}
	if published {
		at := created.Add(time.Second)
		row.PublishedAt = &at
	}
	require.NoError(t, conn.Create(&row).Error)
	return row
}

func TestFetchUnpublishedForPublish(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	newer := seed(t, conn, t0.Add(time.Minute), 0, false)
	older := seed(t, conn, t0, 1, false)
	seed(t, conn, t0, 0, true)
	seed(t, conn, t0, 5, false)

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, older.ID, rows[0].ID)
	assert.Equal(t, newer.ID, rows[1].ID)

	rows, err = repo.FetchUnpublishedForPublish(conn, 1, 5)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = repo.FetchUnpublishedForPublish(nil, 1, 5)
	assert.Error(t, err)
}

func TestMarkTransitions(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	a := seed(t, conn, t0, 0, false)
	b := seed(t, conn, t0, 0, false)
	c := seed(t, conn, t0, 0, false)

	require.NoError(t, repo.MarkFailedTx(conn, a.ID, errors.New("unavailable")))
	require.NoError(t, repo.MarkPublishedTx(conn, a.ID))
	require.NoError(t, repo.MarkFailedTx(conn, b.ID, errors.New("timeout")))
	require.NoError(t, repo.MarkTerminalTx(conn, c.ID, errors.New("bad payload"), 10))

	load := func(id uuid.UUID) models.OutboxEvent {
		var got models.OutboxEvent
		require.NoError(t, conn.First(&got, "id = ?", id).Error)
		return got
	}

	published := load(a.ID)
	assert.NotNil(t, published.PublishedAt)
	assert.Equal(t, 2, published.AttemptCount)
	assert.Nil(t, published.LastError)

	failed := load(b.ID)
	assert.Nil(t, failed.PublishedAt)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "timeout", *failed.LastError)

	assert.Equal(t, 10, load(c.ID).AttemptCount)

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b.ID, rows[0].ID)
}

func TestPruneBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	seed(t, conn, t0.Add(-48*time.Hour), 1, true)
	seed(t, conn, t0.Add(-48*time.Hour), 10, false)
	pending := seed(t, conn, t0.Add(-48*time.Hour), 2, false)
	recent := seed(t, conn, t0, 1, true)

	n, err := repo.PruneBefore(context.Background(), t0.Add(-time.Hour), 10, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var left []models.OutboxEvent
	require.NoError(t, conn.Order("created_at").Find(&left).Error)
	require.Len(t, left, 2)
	assert.ElementsMatch(t, []uuid.UUID{pending.ID, recent.ID}, []uuid.UUID{left[0].ID, left[1].ID})
}

func TestDLQInsertClipsAndPrunes(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	long := strings.Repeat("é", maxDLQErrorLen)
	entry := models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventTrialActivated,
		AggregateType: enums.AggregateTrial,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &long,
		FailedAt:      t0.Add(-100 * 24 * time.Hour),
	}
	require.NoError(t, dlq.InsertTx(conn, entry))

	var got models.OutboxDLQ
	require.NoError(t, conn.First(&got).Error)
	assert.LessOrEqual(t, len(*got.ErrorMessage), maxDLQErrorLen)
	assert.True(t, strings.HasPrefix(long, *got.ErrorMessage))

	n, err := dlq.PruneBefore(context.Background(), t0.Add(-90*24*time.Hour), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

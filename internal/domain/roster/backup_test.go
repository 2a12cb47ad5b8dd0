package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/domain/workforce"
)

func TestParseBackupNormalizesRows(t *testing.T) {
	ops, err := ParseBackup([]byte(`[
		{"registration": "2", "name": "Bruno", "kpis": null},
		{"registration": " 1 ", "name": "Ana", "active": false, "feedbacks": [{"id": "f", "comment": "ok"}]}
	]`))

	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "1", ops[0].Registration)
	assert.False(t, ops[0].Active)
	assert.True(t, ops[1].Active)
	assert.NotNil(t, ops[1].KPIs)
	assert.NotNil(t, ops[1].Documents)
	assert.Len(t, ops[0].Feedbacks, 1)
}

func TestParseBackupRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"registration": "1"`,
		"not a list":   `{"registration": "1", "name": "Ana"}`,
		"empty list":   `[]`,
		"null":         `null`,
		"no key":       `[{"name": "Ana"}]`,
		"no name":      `[{"registration": "1"}]`,
		"repeated key": `[{"registration": "1", "name": "Ana"}, {"registration": "1", "name": "Bia"}]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBackup([]byte(doc))
			assert.ErrorIs(t, err, workforce.ErrInvalidBackup)
		})
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := loaded(t, newFakeBackend(threeOperators()...), supervisor())
	data, err := source.Export()
	require.NoError(t, err)

	target := newFakeBackend(sampleOperator("99999", "Zeca"))
	svc := loaded(t, target, supervisor())
	n, err := svc.Import(context.Background(), data)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"Ana", "Bruno", "Carla"}, names(svc.Snapshot()))
	// records missing from the document stay in the backend
	assert.Contains(t, target.rows, "99999")
	assert.Len(t, target.rows, 4)
}

func TestImportRollsBackOnWriteFailure(t *testing.T) {
	b := newFakeBackend(threeOperators()...)
	svc := loaded(t, b, supervisor())
	before := mustJSON(t, svc.Snapshot())
	b.set(func(b *fakeBackend) { b.upsertErr = errBackendDown })

	_, err := svc.Import(context.Background(), []byte(`[{"registration": "5", "name": "Eva"}]`))

	require.Error(t, err)
	assert.Equal(t, before, mustJSON(t, svc.Snapshot()))
}

func TestImportEmptyDocumentKeepsCollection(t *testing.T) {
	b := newFakeBackend(threeOperators()...)
	svc := loaded(t, b, supervisor())

	n, err := svc.Import(context.Background(), []byte(`[]`))

	assert.ErrorIs(t, err, workforce.ErrInvalidBackup)
	assert.Zero(t, n)
	assert.Equal(t, []string{"Ana", "Bruno", "Carla"}, names(svc.Snapshot()))
	assert.Len(t, b.rows, 3)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	recursive := Classify(fmt.Errorf("list: %w", &pgconn.PgError{Code: "42P17"}))
	assert.Equal(t, KindRecursivePolicy, recursive.Kind)
	assert.NotEmpty(t, recursive.Remediation)

	missing := Classify(&pgconn.PgError{Code: "42P01"})
	assert.Equal(t, KindMissingTable, missing.Kind)

	network := Classify(errors.New("dial tcp: timeout"))
	assert.Equal(t, KindNetwork, network.Kind)
	assert.True(t, errors.Is(network, workforce.ErrNetwork))

	assert.Same(t, network, Classify(network))

	raw, err := json.Marshal(missing)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "remediation")
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(`{"type": "update", "registration": " 19195 "}`)
	require.NoError(t, err)
	assert.Equal(t, ChangeEvent{Type: EventUpdate, Registration: "19195"}, ev)

	_, err = ParseEvent(`{"type": "TRUNCATE", "registration": "1"}`)
	assert.Error(t, err)
	_, err = ParseEvent(`{"type": "DELETE"}`)
	assert.Error(t, err)
	_, err = ParseEvent(`garbage`)
	assert.Error(t, err)
}

func TestHubDropsEventsForFullSubscriber(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := hub.Subscribe(ctx)
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Broadcast(ChangeEvent{Type: EventUpdate, Registration: fmt.Sprint(i)})
	}
	assert.Len(t, events, subscriberBuffer)
}

func TestHubSubscriptionEndsWithContext(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	events, _ := hub.Subscribe(ctx)

	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
}

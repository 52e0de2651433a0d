package accounts

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single url", "postgres://r1/db", []string{"postgres://r1/db"}},
		{"multiple with whitespace", " postgres://r1/db , postgres://r2/db ", []string{"postgres://r1/db", "postgres://r2/db"}},
		{"empty entries skipped", "postgres://r1/db,,", []string{"postgres://r1/db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestNewConnectionManager_SQLite(t *testing.T) {
	cm, err := NewConnectionManager(ConnectionConfig{
		Driver:      DriverSQLite,
		PrimaryURL:  ":memory:",
		ReplicaURLs: []string{"ignored"},
	}, observability.NewNopLogger())
	require.NoError(t, err)
	defer cm.Close()

	assert.Same(t, cm.Primary(), cm.Replica(), "sqlite has no replicas")
	require.NoError(t, cm.HealthCheck(context.Background()))

	require.NoError(t, RunMigrations(context.Background(), cm.Primary(), observability.NewNopLogger()))
	store := NewSQLStoreWithReplicas(cm)
	memberships, err := store.ListMemberships(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, memberships)
}

func TestNewConnectionManager_InvalidDriver(t *testing.T) {
	_, err := NewConnectionManager(ConnectionConfig{Driver: "nope", PrimaryURL: "x"}, nil)
	assert.Error(t, err)
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas - fallback to primary", func(t *testing.T) {
		primaryDB := &sql.DB{}
		cm := &ConnectionManager{primary: primaryDB}

		assert.Same(t, primaryDB, cm.Replica())
	})

	t.Run("round-robin selection with multiple replicas", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}
		replica3 := &sql.DB{}

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2, replica3},
		}

		selections := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			selections[cm.Replica()]++
		}

		assert.Equal(t, 10, selections[replica1])
		assert.Equal(t, 10, selections[replica2])
		assert.Equal(t, 10, selections[replica3])
	})

	t.Run("concurrent replica selection", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}
		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2},
		}

		var wg sync.WaitGroup
		results := make(chan *sql.DB, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- cm.Replica()
			}()
		}
		wg.Wait()
		close(results)

		selections := make(map[*sql.DB]int)
		for replica := range results {
			selections[replica]++
		}
		assert.NotZero(t, selections[replica1])
		assert.NotZero(t, selections[replica2])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	newPingMock := func(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db, mock
	}

	t.Run("primary down", func(t *testing.T) {
		primary, mock := newPingMock(t)
		mock.ExpectPing().WillReturnError(errors.New("down"))

		cm := &ConnectionManager{primary: primary}
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, primaryMock := newPingMock(t)
		replica, replicaMock := newPingMock(t)
		primaryMock.ExpectPing()
		replicaMock.ExpectPing().WillReturnError(errors.New("down"))

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})

	t.Run("unhealthy replicas are removed", func(t *testing.T) {
		healthy, healthyMock := newPingMock(t)
		broken, brokenMock := newPingMock(t)
		healthyMock.ExpectPing()
		brokenMock.ExpectPing().WillReturnError(errors.New("down"))
		brokenMock.ExpectClose()

		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{healthy, broken}}
		removed := cm.RemoveUnhealthyReplicas(context.Background())
		assert.Equal(t, 1, removed)
		assert.Same(t, healthy, cm.Replica())
	})
}

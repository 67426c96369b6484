package database

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"delivery-core/internal/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	client := NewPostgresFromDB(db)
	err = client.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE orders SET status = 'preparing-your-order'")
		return err
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	client := NewPostgresFromDB(db)
	boom := errors.New("boom")
	err = client.WithTx(context.Background(), func(tx *sql.Tx) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err = NewPostgresFromDB(db).EnsureSchema(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisClient_PublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx))

	sub := client.Subscribe(ctx, "rooms")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "rooms", "hello"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Payload)
}

func TestElasticsearchClient_EnsureIndex(t *testing.T) {
	tests := []struct {
		name       string
		existsCode int
		createCode int
		wantCreate bool
		wantErr    bool
	}{
		{"already exists", http.StatusOK, 0, false, false},
		{"created", http.StatusNotFound, http.StatusOK, true, false},
		{"lost creation race", http.StatusNotFound, http.StatusBadRequest, true, false},
		{"cluster unavailable", http.StatusServiceUnavailable, 0, false, true},
		{"create rejected", http.StatusNotFound, http.StatusForbidden, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := false
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Elastic-Product", "Elasticsearch")
				w.Header().Set("Content-Type", "application/json")
				assert.Equal(t, "/notifications", r.URL.Path)
				switch r.Method {
				case http.MethodHead:
					w.WriteHeader(tt.existsCode)
				case http.MethodPut:
					created = true
					w.WriteHeader(tt.createCode)
					_, _ = w.Write([]byte(`{}`))
				}
			}))
			defer srv.Close()

			es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
			require.NoError(t, err)
			client := &ElasticsearchClient{Client: es}

			err = client.EnsureIndex(context.Background(), "notifications", []byte(`{"mappings":{}}`))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCreate, created)
		})
	}
}

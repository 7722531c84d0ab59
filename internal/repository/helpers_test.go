package repository

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// newMockDB はsqlmockをバックエンドにした*sqlx.DBを生成する。
// テスト終了時に全ての期待が満たされたことを検証する。
func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var userCols = []string{"id", "username", "email", "password_hash", "role", "learning_points", "created_at", "updated_at"}

var companionCols = []string{
	"id", "name", "role_description", "category", "avatar_emoji", "color_class", "cost_points",
	"description", "quote", "dify_prompt_link", "dify_api_key", "remarks", "status", "rating",
	"current_subscribers", "total_subscribers_ever", "created_at", "updated_at",
}

var subscriptionCols = []string{"id", "user_id", "companion_id", "recruited_at", "is_active", "total_messages", "last_interaction_at"}

// companionValues はcompanionColsの順に並んだ1行分の値を返す。
func companionValues(id, name, status string, current, total int) []driver.Value {
	return []driver.Value{
		id, name, "English Tutor", "English", "👩‍🏫", "av-blue", 750,
		"Helps with grammar.", "Practice makes perfect.", nil, nil, nil, status, 4.5,
		current, total, testNow, testNow,
	}
}

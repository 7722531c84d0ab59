package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FindByIDは期限切れセッションを返さないこと
func TestPostgresSessionRepo_FindByID_Expired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSessionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND expires_at > now()")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}))

	s, err := repo.FindByID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestPostgresSessionRepo_DeleteExpired_ReturnsCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSessionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at <= $1")).
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestPostgresSessionRepo_DeleteByUserID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSessionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1")).
		WithArgs("student-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.DeleteByUserID(context.Background(), "student-1"))
}

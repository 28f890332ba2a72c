package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
)

func newMockPostgresStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := open(postgres.New(postgres.Config{Conn: db}), nil, false)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestPostgresAddMessageUsesReturningID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO "messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := s.AddMessage(context.Background(), "carrie", "a.wav", "/a.wav", nil)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMessagesForMemberQueryShape(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	recorded := time.Date(2026, 1, 8, 11, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "family_member", "filename", "file_path", "recorded_at", "is_archived"}).
		AddRow(7, "CARRIE", "b.wav", "/b.wav", recorded, false).
		AddRow(3, "CARRIE", "a.wav", "/a.wav", recorded.Add(-time.Hour), false)

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE family_member = \$1 AND is_archived = \$2 ORDER BY recorded_at DESC,id DESC LIMIT \$3`).
		WithArgs("CARRIE", false, 5).
		WillReturnRows(rows)

	msgs, err := s.MessagesForMember(context.Background(), "carrie", 5)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(7), msgs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTranscriptionNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE "messages" SET "transcription"=\$1 WHERE id = \$2`).
		WithArgs("hello", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateTranscription(context.Background(), 99, "hello")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryErrorIsWrapped(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT family_member, COUNT\(\*\) AS count FROM "messages"`).
		WillReturnError(sql.ErrConnDone)

	_, err := s.MemberCounts(context.Background())
	require.ErrorIs(t, err, sql.ErrConnDone)
	require.ErrorContains(t, err, "count messages")
	require.NoError(t, mock.ExpectationsWereMet())
}

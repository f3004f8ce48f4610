package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-occurrences/internal/domain/occurrence"
)

func TestNextProtocolNumber_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO protocol_sequences`).
		WithArgs("t1/2025").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(42)))

	n, err := NewSequence(db).NextProtocolNumber(context.Background(), " t1/2025 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextProtocolNumber_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO protocol_sequences`).
		WillReturnError(errors.New("connection reset"))

	_, err = NewSequence(db).NextProtocolNumber(context.Background(), "t1/2025")
	assert.ErrorIs(t, err, occurrence.ErrUpstreamUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextProtocolNumber_Guards(t *testing.T) {
	_, err := NewSequence(nil).NextProtocolNumber(context.Background(), "t1/2025")
	assert.ErrorIs(t, err, occurrence.ErrUpstreamUnavailable)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = NewSequence(db).NextProtocolNumber(context.Background(), "")
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)
}

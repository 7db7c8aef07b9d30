package repository

import (
	"context"
	"errors"
	"testing"

	"creditsystem/internal/infrastructure/database"
	"creditsystem/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func accountRows(userID, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "balance", "reserved", "version", "status"}).
		AddRow(userID, userID, balance, 0, 3, model.AccountStatusActive)
}

func TestForUpdateOnMySQL(t *testing.T) {
	db, _ := newMockDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var account model.Account
		return forUpdate(tx).Where("user_id = ?", 7).First(&account)
	})
	assert.Contains(t, sql, "FROM `account` WHERE user_id = 7")
	assert.Contains(t, sql, "FOR UPDATE")
}

func TestForUpdateSkippedOnSQLite(t *testing.T) {
	db, err := database.OpenSQLite("", false)
	require.NoError(t, err)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var account model.Account
		return forUpdate(tx).Where("user_id = ?", 7).First(&account)
	})
	assert.Contains(t, sql, "user_id = 7")
	assert.NotContains(t, sql, "FOR UPDATE")
}

func TestLockManyAscendingOrder(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	// rows come back in query order; the balances tell which id was asked first
	mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?.*FOR UPDATE").
		WillReturnRows(accountRows(10, 1000))
	mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?.*FOR UPDATE").
		WillReturnRows(accountRows(30, 3000))

	locked, err := repo.LockMany(context.Background(), db, 30, 10, 30)
	require.NoError(t, err)
	require.Len(t, locked, 2)
	assert.Equal(t, int64(1000), locked[10].Balance)
	assert.Equal(t, int64(3000), locked[30].Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManyMissingAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery("FOR UPDATE").WillReturnRows(accountRows(1, 0))
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.LockMany(context.Background(), db, 1, 2)
	assert.True(t, errors.Is(err, model.ErrAccountNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProjectionVersionGuard(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	account := &model.Account{ID: 5, UserID: 5, Balance: 40, Version: 3}

	mock.ExpectExec("UPDATE `account` SET .*id = \\? AND version = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveProjection(context.Background(), db, account))
	assert.Equal(t, 4, account.Version)

	mock.ExpectExec("UPDATE `account` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SaveProjection(context.Background(), db, account)
	assert.ErrorIs(t, err, ErrOptimisticLock)
	assert.Equal(t, 4, account.Version)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateDuplicateKey(t *testing.T) {
	assert.Nil(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey), ErrDuplicateKey)
	assert.ErrorIs(t, translate(errors.New("Error 1062: Duplicate entry 'k' for key 'uk'")), ErrDuplicateKey)
	assert.ErrorIs(t, translate(errors.New("UNIQUE constraint failed: ledger_entry.idempotency_key")), ErrDuplicateKey)

	other := errors.New("boom")
	assert.Equal(t, other, translate(other))
}

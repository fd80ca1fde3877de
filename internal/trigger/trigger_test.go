package trigger

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nethalo/dbalter/internal/mysql"
)

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := mysql.NewSession(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewManager(s, "shop", nil), mock
}

func TestNames(t *testing.T) {
	assert.Equal(t, "orders_AI_oak", Name("orders", Insert))
	assert.Equal(t, "orders_AU_oak", Name("orders", Update))
	assert.Equal(t, "orders_AD_oak", Name("orders", Delete))
	assert.Equal(t, []string{"orders_AD_oak", "orders_AU_oak", "orders_AI_oak"}, Names("orders"))
}

func TestInstall_Statements(t *testing.T) {
	m, mock := newMockManager(t)

	deleteTrigger := "CREATE TRIGGER `shop`.`orders_AD_oak` AFTER DELETE ON `shop`.`orders` FOR EACH ROW " +
		"DELETE FROM `shop`.`__oak_orders` WHERE `shop`.`__oak_orders`.`shop_id` <=> OLD.`shop_id` AND `shop`.`__oak_orders`.`seq` <=> OLD.`seq`"
	updateTrigger := "CREATE TRIGGER `shop`.`orders_AU_oak` AFTER UPDATE ON `shop`.`orders` FOR EACH ROW " +
		"BEGIN DELETE FROM `shop`.`__oak_orders` WHERE `shop`.`__oak_orders`.`shop_id` <=> OLD.`shop_id` AND `shop`.`__oak_orders`.`seq` <=> OLD.`seq`; " +
		"REPLACE INTO `shop`.`__oak_orders` (`shop_id`, `seq`, `status`) VALUES (NEW.`shop_id`, NEW.`seq`, NEW.`status`); END"
	insertTrigger := "CREATE TRIGGER `shop`.`orders_AI_oak` AFTER INSERT ON `shop`.`orders` FOR EACH ROW " +
		"REPLACE INTO `shop`.`__oak_orders` (`shop_id`, `seq`, `status`) VALUES (NEW.`shop_id`, NEW.`seq`, NEW.`status`)"

	mock.ExpectExec(regexp.QuoteMeta(deleteTrigger)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(updateTrigger)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTrigger)).WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.Install(context.Background(), "orders", "__oak_orders",
		[]string{"shop_id", "seq"}, []string{"shop_id", "seq", "status"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstall_UpdateDeletesOldKeyBeforeReplace(t *testing.T) {
	m := NewManager(nil, "shop", nil)
	stmt := m.statement(Update, "orders", "__oak_orders", []string{"id"}, []string{"id", "status"})

	del := strings.Index(stmt, "DELETE FROM")
	rep := strings.Index(stmt, "REPLACE INTO")
	require.True(t, del > 0 && rep > del, "statement: %s", stmt)
	assert.Contains(t, stmt[del:rep], "OLD.`id`")
	assert.NotContains(t, stmt[rep:], "OLD.")
}

func TestInstall_RejectsLongNames(t *testing.T) {
	m, mock := newMockManager(t)
	long := strings.Repeat("t", 60)

	err := m.Install(context.Background(), long, "__oak_"+long, []string{"id"}, []string{"id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "longer than")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstall_ExistingTrigger(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectExec("CREATE TRIGGER").
		WillReturnError(&mysqldriver.MySQLError{Number: mysql.ErrCodeTriggerExists, Message: "Trigger already exists"})

	err := m.Install(context.Background(), "orders", "__oak_orders", []string{"id"}, []string{"id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func expectExists(mock sqlmock.Sqlmock, name string, n int) {
	mock.ExpectQuery("FROM information_schema.TRIGGERS").
		WithArgs("shop", name).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(n))
}

func TestDrop_Idempotent(t *testing.T) {
	m, mock := newMockManager(t)
	ctx := context.Background()

	expectExists(mock, "orders_AD_oak", 1)
	mock.ExpectExec(regexp.QuoteMeta("DROP TRIGGER IF EXISTS `shop`.`orders_AD_oak`")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectExists(mock, "orders_AU_oak", 0)
	expectExists(mock, "orders_AI_oak", 1)
	mock.ExpectExec(regexp.QuoteMeta("DROP TRIGGER IF EXISTS `shop`.`orders_AI_oak`")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.Drop(ctx, "orders"))

	for _, name := range Names("orders") {
		expectExists(mock, name, 0)
	}
	require.NoError(t, m.Drop(ctx, "orders"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDrop_CollectsErrors(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery("FROM information_schema.TRIGGERS").WillReturnError(errors.New("gone away"))
	expectExists(mock, "orders_AU_oak", 1)
	mock.ExpectExec("DROP TRIGGER").WillReturnError(errors.New("denied"))
	expectExists(mock, "orders_AI_oak", 0)

	err := m.Drop(context.Background(), "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone away")
	assert.Contains(t, err.Error(), "denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstalled(t *testing.T) {
	m, mock := newMockManager(t)

	expectExists(mock, "orders_AD_oak", 1)
	expectExists(mock, "orders_AU_oak", 0)
	expectExists(mock, "orders_AI_oak", 1)

	got, err := m.Installed(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders_AD_oak", "orders_AI_oak"}, got)
}

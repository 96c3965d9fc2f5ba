// file: internal/adapter/datasource/sqlsource/registry_test.go
package sqlsource

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

// mockDataSource 是 port.DataSource 的测试替身
type mockDataSource struct {
	id             string
	QueryTableFunc func(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error)
	ProbeFunc      func(ctx context.Context) (map[string]float64, error)
	queryCalls     int
	closed         bool
}

func (m *mockDataSource) ID() string { return m.id }
func (m *mockDataSource) Info() domain.SourceInfo { return domain.SourceInfo{ID: m.id} }
func (m *mockDataSource) Tables() []domain.TableSpec { return nil }
func (m *mockDataSource) Close() error {
	m.closed = true
	return nil
}
func (m *mockDataSource) QueryTable(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	m.queryCalls++
	if m.QueryTableFunc != nil {
		return m.QueryTableFunc(ctx, q)
	}
	return &domain.TablePage{}, nil
}
func (m *mockDataSource) Probe(ctx context.Context) (map[string]float64, error) {
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}
	return map[string]float64{}, nil
}

func TestGuarded_OpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &mockDataSource{id: "pos1", QueryTableFunc: func(context.Context, domain.TableQuery) (*domain.TablePage, error) {
		return nil, boom
	}}
	g := NewGuarded(mock, BreakerSettings{MaxFailures: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := g.QueryTable(context.Background(), domain.TableQuery{})
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.QueryTable(context.Background(), domain.TableQuery{})
	require.ErrorIs(t, err, port.ErrSourceUnavailable)
	require.Equal(t, 3, mock.queryCalls, "熔断期间不应访问底层数据源")

	stats, err := g.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(1), stats["breakerOpen"])
}

func TestGuarded_ValidationErrorsDoNotTrip(t *testing.T) {
	mock := &mockDataSource{id: "pos1", QueryTableFunc: func(context.Context, domain.TableQuery) (*domain.TablePage, error) {
		return nil, port.ErrInvalidSortField
	}}
	g := NewGuarded(mock, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		_, err := g.QueryTable(context.Background(), domain.TableQuery{})
		require.ErrorIs(t, err, port.ErrInvalidSortField)
	}
	require.Equal(t, gobreaker.StateClosed, g.State())
}

func TestRegistry_OrderAndLookup(t *testing.T) {
	reg := NewRegistry()
	a, b := &mockDataSource{id: "a"}, &mockDataSource{id: "b"}
	require.NoError(t, reg.Register(b))
	require.NoError(t, reg.Register(a))
	require.Error(t, reg.Register(&mockDataSource{id: "a"}))

	all := reg.All()
	require.Equal(t, "b", all[0].ID())
	require.Equal(t, "a", all[1].ID())

	_, err := reg.Get("nope")
	require.ErrorIs(t, err, port.ErrSourceNotFound)

	require.NoError(t, reg.CloseAll())
	require.True(t, a.closed)
	require.True(t, b.closed)
}

func TestOpenAll_BadSourceIsRegisteredOffline(t *testing.T) {
	dir := t.TempDir()
	cfgs := []Config{
		{ID: "local", Driver: "sqlite", Database: filepath.Join(dir, "pos.db"), Tables: []domain.TableSpec{{Name: "t", PrimaryKey: "id"}}},
		{ID: "legacy", Driver: "oracle"},
	}
	reg, err := OpenAll(context.Background(), cfgs, DefaultBreakerSettings)
	require.NoError(t, err)
	defer reg.CloseAll()

	infos := reg.Infos()
	require.Len(t, infos, 2)
	require.Equal(t, "local", infos[0].ID)
	require.Equal(t, "legacy", infos[1].ID)

	local, err := reg.Get("local")
	require.NoError(t, err)
	_, err = local.Probe(context.Background())
	require.NoError(t, err)

	legacy, err := reg.Get("legacy")
	require.NoError(t, err)
	_, err = legacy.Probe(context.Background())
	require.Error(t, err)
	_, err = legacy.QueryTable(context.Background(), domain.TableQuery{Table: "t"})
	require.ErrorIs(t, err, port.ErrSourceUnavailable)
}

func TestConfig_Validate(t *testing.T) {
	require.Error(t, Config{Driver: "postgres"}.Validate())
	require.Error(t, Config{ID: "x", Driver: "postgres", Tables: []domain.TableSpec{{Name: "t"}}}.Validate())
	require.Error(t, Config{ID: "x", Driver: "postgres", Tables: []domain.TableSpec{
		{Name: "t", PrimaryKey: "id"}, {Name: "t", PrimaryKey: "id"},
	}}.Validate())
	require.NoError(t, Config{ID: "x", Driver: "sqlserver", Tables: []domain.TableSpec{{Name: "t", PrimaryKey: "id"}}}.Validate())
}

func TestConfig_ConnectionStrings(t *testing.T) {
	c := Config{Host: "db", User: "pos", Password: "p@ss", Database: "sales"}
	require.Equal(t, "postgres://pos:p%40ss@db:5432/sales?sslmode=disable", c.PostgresURL())
	require.Equal(t, "sqlserver://pos:p%40ss@db:1433?database=sales&encrypt=disable", c.SQLServerURL())
	require.Equal(t, "file:sales?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", c.SQLiteDSN())
	c.DSN = "custom"
	require.Equal(t, "custom", c.PostgresURL())
	require.Equal(t, "custom", c.SQLiteDSN())
}

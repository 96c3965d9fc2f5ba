// file: internal/adapter/datasource/sqlsource/source_test.go
package sqlsource

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var productsSpec = domain.TableSpec{
	Name:       "products",
	PrimaryKey: "id",
	Searchable: []string{"name", "category"},
	Sortable:   []string{"name", "category", "price"},
}

// newProductsSource 创建一个含 60 行商品数据的内存数据源
func newProductsSource(t *testing.T) *Source {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE products(id INTEGER PRIMARY KEY, name TEXT, category TEXT, price REAL)`)
	require.NoError(t, err)
	categories := []string{"Drinks", "Snacks", "Bakery"}
	for i := 1; i <= 60; i++ {
		_, err = db.Exec(`INSERT INTO products(id, name, category, price) VALUES (?, ?, ?, ?)`,
			i, fmt.Sprintf("Item %02d", i), categories[i%3], float64(i%7)*1.5)
		require.NoError(t, err)
	}
	return NewSQL("store-a", "Store A", SQLite, db, []domain.TableSpec{productsSpec})
}

func ids(page *domain.TablePage) []int64 {
	out := make([]int64, 0, len(page.Rows))
	for _, r := range page.Rows {
		out = append(out, r["id"].(int64))
	}
	return out
}

func TestSource_QueryTable_Pagination(t *testing.T) {
	src := newProductsSource(t)
	ctx := context.Background()

	page, err := src.QueryTable(ctx, domain.TableQuery{Table: "products", Page: 2, PageSize: 25})
	require.NoError(t, err)
	require.Len(t, page.Rows, 25)
	require.Equal(t, int64(60), page.Pagination.Total)
	require.Equal(t, 3, page.Pagination.TotalPages)
	require.Equal(t, int64(26), page.Rows[0]["id"])
	require.Contains(t, page.Columns, "price")

	last, err := src.QueryTable(ctx, domain.TableQuery{Table: "products", Page: 3, PageSize: 25})
	require.NoError(t, err)
	require.Len(t, last.Rows, 10)
}

func TestSource_QueryTable_PageBeyondTotalIsEmpty(t *testing.T) {
	src := newProductsSource(t)

	page, err := src.QueryTable(context.Background(), domain.TableQuery{Table: "products", Page: 9, PageSize: 25})
	require.NoError(t, err)
	require.NotNil(t, page.Rows)
	require.Empty(t, page.Rows)
	require.Equal(t, int64(60), page.Pagination.Total)
	require.Equal(t, 3, page.Pagination.TotalPages)
}

func TestSource_QueryTable_SkipsRowQueryPastLastPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	src := NewSQL("store-a", "Store A", SQLite, db, []domain.TableSpec{productsSpec})

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "products"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(60))

	page, err := src.QueryTable(context.Background(), domain.TableQuery{Table: "products", Page: 4, PageSize: 25})
	require.NoError(t, err)
	require.Empty(t, page.Rows)
	require.Equal(t, 4, page.Pagination.Page)
	require.Equal(t, 3, page.Pagination.TotalPages)
	require.NoError(t, mock.ExpectationsWereMet(), "超出末页时只应执行计数查询")
}

func TestSource_QueryTable_HugePage(t *testing.T) {
	src := newProductsSource(t)
	ctx := context.Background()

	// 偏移量 (page-1)*limit 恰好不溢出，结果为空而不是回绕到第一页
	page, err := src.QueryTable(ctx, domain.TableQuery{Table: "products", Page: domain.MaxPage(200), PageSize: 200})
	require.NoError(t, err)
	require.Empty(t, page.Rows)
	require.Equal(t, int64(60), page.Pagination.Total)

	_, err = src.QueryTable(ctx, domain.TableQuery{Table: "products", Page: domain.MaxPage(200) + 1, PageSize: 200})
	require.ErrorIs(t, err, port.ErrValidation)
}

func TestSource_QueryTable_SearchIsCaseInsensitive(t *testing.T) {
	src := newProductsSource(t)

	page, err := src.QueryTable(context.Background(), domain.TableQuery{Table: "products", Page: 1, PageSize: 50, Search: "dRiNkS"})
	require.NoError(t, err)
	require.Equal(t, int64(20), page.Pagination.Total)
	for _, r := range page.Rows {
		require.Equal(t, "Drinks", r["category"])
	}

	// 通配符按字面量匹配
	page, err = src.QueryTable(context.Background(), domain.TableQuery{Table: "products", Page: 1, PageSize: 25, Search: "%"})
	require.NoError(t, err)
	require.Equal(t, int64(0), page.Pagination.Total)
	require.Equal(t, 0, page.Pagination.TotalPages)
}

func TestSource_QueryTable_SQLiteNonASCIISearch(t *testing.T) {
	db, err := sql.Open("sqlite", "file:nonascii?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE items(id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO items(id, name) VALUES (1, 'CRÈME Brûlée'), (2, 'Crème Fraîche')`)
	require.NoError(t, err)
	src := NewSQL("cafe", "", SQLite, db, []domain.TableSpec{{Name: "items", PrimaryKey: "id", Searchable: []string{"name"}}})

	// SQLite 只折叠 ASCII：原样大小写的非 ASCII 搜索词依然命中
	page, err := src.QueryTable(context.Background(), domain.TableQuery{Table: "items", Page: 1, PageSize: 25, Search: "CRÈME"})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(page))

	page, err = src.QueryTable(context.Background(), domain.TableQuery{Table: "items", Page: 1, PageSize: 25, Search: "brûlée"})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(page))
}

func TestSource_QueryTable_SortWithPrimaryKeyTiebreak(t *testing.T) {
	src := newProductsSource(t)

	page, err := src.QueryTable(context.Background(), domain.TableQuery{
		Table: "products", Page: 1, PageSize: 200, SortField: "price", SortDir: domain.SortDesc,
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 60)
	for i := 1; i < len(page.Rows); i++ {
		prev, cur := page.Rows[i-1], page.Rows[i]
		require.GreaterOrEqual(t, prev["price"].(float64), cur["price"].(float64))
		if prev["price"] == cur["price"] {
			require.Less(t, prev["id"].(int64), cur["id"].(int64))
		}
	}
}

func TestSource_QueryTable_PagesAreDisjointUnderTies(t *testing.T) {
	src := newProductsSource(t)
	seen := make(map[int64]bool)
	for p := 1; p <= 3; p++ {
		page, err := src.QueryTable(context.Background(), domain.TableQuery{
			Table: "products", Page: p, PageSize: 25, SortField: "category", SortDir: domain.SortAsc,
		})
		require.NoError(t, err)
		for _, id := range ids(page) {
			require.False(t, seen[id], "行 %d 在多页中重复出现", id)
			seen[id] = true
		}
	}
	require.Len(t, seen, 60)
}

func TestSource_QueryTable_Errors(t *testing.T) {
	src := newProductsSource(t)
	ctx := context.Background()

	_, err := src.QueryTable(ctx, domain.TableQuery{Table: "secrets", Page: 1, PageSize: 25})
	require.ErrorIs(t, err, port.ErrTableNotFound)

	_, err = src.QueryTable(ctx, domain.TableQuery{Table: "products", Page: 1, PageSize: 25, SortField: "cost"})
	require.ErrorIs(t, err, port.ErrInvalidSortField)

	_, err = src.QueryTable(ctx, domain.TableQuery{Table: "products", Page: 1, PageSize: 10})
	require.ErrorIs(t, err, port.ErrInvalidPageSize)
}

func TestSource_ProbeReportsPoolStats(t *testing.T) {
	src := newProductsSource(t)

	stats, err := src.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(1), stats["maxOpen"])

	require.NoError(t, src.Close())
	_, err = src.Probe(context.Background())
	require.Error(t, err)
}

func TestSource_TablesKeepConfiguredOrder(t *testing.T) {
	src := NewSQL("s", "", SQLite, nil, []domain.TableSpec{
		{Name: "b", PrimaryKey: "id"}, {Name: "a", PrimaryKey: "id"}, {Name: "b", PrimaryKey: "x"},
	})
	tables := src.Tables()
	require.Len(t, tables, 2)
	require.Equal(t, "b", tables[0].Name)
	require.Equal(t, "id", tables[0].PrimaryKey)
	require.Equal(t, "a", tables[1].Name)
}

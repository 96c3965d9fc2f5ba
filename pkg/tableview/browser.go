// Package tableview 是远程表格浏览的状态机：分页、排序、带防抖的搜索，
// 以及按序号丢弃过期响应。
package tableview

import (
	"ERPAdmin/internal/core/domain"
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultDebounce 搜索输入的防抖时长
const DefaultDebounce = 300 * time.Millisecond

// Fetcher 执行一次远程查询，例如 apiclient.Client.BrowseTable 的闭包
type Fetcher func(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error)

// State 是浏览器的快照
type State struct {
	Query      domain.TableQuery
	Rows       []map[string]any
	Columns    []string
	Pagination domain.Pagination
	Loading    bool
	Err        error
}

type Option func(*Browser)

// WithDebounce 覆盖搜索防抖时长
func WithDebounce(d time.Duration) Option {
	return func(b *Browser) { b.debounce = d }
}

// WithPageSize 设置初始页大小
func WithPageSize(n int) Option {
	return func(b *Browser) { b.q.PageSize = n }
}

// WithSort 设置初始排序
func WithSort(field string, dir domain.SortDir) Option {
	return func(b *Browser) { b.q.SortField, b.q.SortDir = field, dir }
}

// OnChange 注册状态变化回调，回调在内部锁之外执行
func OnChange(fn func(State)) Option {
	return func(b *Browser) { b.onChange = fn }
}

// Browser 单张远程表的浏览状态
type Browser struct {
	mu       sync.Mutex
	base     context.Context
	fetch    Fetcher
	debounce time.Duration
	onChange func(State)

	q       domain.TableQuery
	page    *domain.TablePage
	loading bool
	err     error

	latest   uint64
	timer    *time.Timer
	timerGen uint64
	cancelFn context.CancelFunc
	inflight sync.WaitGroup
	closed   bool
}

// New 创建浏览器，不会自动加载，调用 Load 发起首次查询
func New(ctx context.Context, table string, fetch Fetcher, opts ...Option) *Browser {
	b := &Browser{
		base:     ctx,
		fetch:    fetch,
		debounce: DefaultDebounce,
		q: domain.TableQuery{
			Table:    table,
			Page:     1,
			PageSize: domain.DefaultPageSize,
		},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Load 以当前条件立即查询
func (b *Browser) Load() {
	b.mu.Lock()
	b.startLocked()
	b.mu.Unlock()
}

// SetSearch 修改搜索词并回到第一页。查询在最后一次调用 debounce 之后发出。
func (b *Browser) SetSearch(term string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.q.Search = term
	b.q.Page = 1
	b.stopTimerLocked()
	gen := b.timerGen
	b.timer = time.AfterFunc(b.debounce, func() { b.fireSearch(gen) })
}

// fireSearch 是防抖计时器的回调。回调可能已触发但仍在等锁，
// 此时计时器已被替换或取消，gen 不再匹配，直接忽略。
func (b *Browser) fireSearch(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.timerGen {
		return
	}
	b.timer = nil
	b.startLocked()
}

// stopTimerLocked 停止待触发的搜索并使已触发的回调失效
func (b *Browser) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
}

// ToggleSort 同一字段切换升降序，新字段从升序开始。页码不变。
func (b *Browser) ToggleSort(field string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.SortField == field {
		b.q.SortDir = b.q.SortDir.Toggle()
	} else {
		b.q.SortField = field
		b.q.SortDir = domain.SortAsc
	}
	b.startLocked()
}

// SetPage 跳转到第 n 页，n < 1 视为 1
func (b *Browser) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.q.Page = n
	b.startLocked()
}

// SetPageSize 修改页大小并回到第一页
func (b *Browser) SetPageSize(n int) error {
	if !domain.ValidPageSize(n) {
		return fmt.Errorf("不支持的页大小 %d，可选值 %v", n, domain.PageSizes)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.q.PageSize = n
	b.q.Page = 1
	b.startLocked()
	return nil
}

// State 返回当前快照
func (b *Browser) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Wait 等待已发出的查询全部返回，不包括尚未触发的防抖查询
func (b *Browser) Wait() {
	b.inflight.Wait()
}

// Close 取消未完成的查询和防抖计时器，之后的操作不再发起查询
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimerLocked()
	if b.cancelFn != nil {
		b.cancelFn()
	}
}

func (b *Browser) stateLocked() State {
	s := State{Query: b.q, Loading: b.loading, Err: b.err}
	if b.page != nil {
		s.Rows = b.page.Rows
		s.Columns = b.page.Columns
		s.Pagination = b.page.Pagination
	}
	return s
}

// startLocked 以当前条件发起查询；调用方持有 b.mu。
// 新查询会取消上一次尚未返回的查询，并使其结果失效。
func (b *Browser) startLocked() {
	if b.closed {
		return
	}
	// 当前条件已包含待发出的搜索词
	b.stopTimerLocked()
	if b.cancelFn != nil {
		b.cancelFn()
	}
	b.latest++
	seq := b.latest
	q := b.q
	ctx, cancel := context.WithCancel(b.base)
	b.cancelFn = cancel
	b.loading = true
	b.err = nil

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer cancel()
		page, err := b.fetch(ctx, q)
		b.apply(seq, page, err)
	}()
}

func (b *Browser) apply(seq uint64, page *domain.TablePage, err error) {
	b.mu.Lock()
	if seq != b.latest {
		b.mu.Unlock()
		return
	}
	b.loading = false
	if err != nil {
		b.err = err
	} else {
		b.page = page
	}
	s := b.stateLocked()
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

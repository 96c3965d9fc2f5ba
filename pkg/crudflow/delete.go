package crudflow

import (
	"context"
	"sync"
)

// DeleteFlow 删除确认流程：RequestDelete 记录待删除项，Confirm 才真正调用删除
type DeleteFlow[ID comparable] struct {
	mu      sync.Mutex
	remove  func(ctx context.Context, id ID) error
	refetch func()

	pending *ID
	busy    bool
	errMsg  string
}

func NewDeleteFlow[ID comparable](remove func(ctx context.Context, id ID) error, refetch func()) *DeleteFlow[ID] {
	return &DeleteFlow[ID]{remove: remove, refetch: refetch}
}

// RequestDelete 弹出确认；删除进行中时忽略
func (f *DeleteFlow[ID]) RequestDelete(id ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return
	}
	f.pending = &id
	f.errMsg = ""
}

// Pending 返回待确认的删除项
func (f *DeleteFlow[ID]) Pending() (ID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		var zero ID
		return zero, false
	}
	return *f.pending, true
}

// Cancel 放弃删除，不发起任何请求
func (f *DeleteFlow[ID]) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return
	}
	f.pending = nil
	f.errMsg = ""
}

// Confirm 对待确认项发起一次删除。成功后清除待确认项并触发 Refetch；
// 失败时确认框保持打开，Err 为服务端消息原文，可再次 Confirm 或 Cancel。
func (f *DeleteFlow[ID]) Confirm(ctx context.Context) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.pending == nil {
		f.mu.Unlock()
		return ErrNoPending
	}
	id := *f.pending
	f.busy = true
	f.mu.Unlock()

	err := f.remove(ctx, id)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.errMsg = err.Error()
		f.mu.Unlock()
		return err
	}
	f.pending = nil
	f.errMsg = ""
	f.mu.Unlock()

	if f.refetch != nil {
		f.refetch()
	}
	return nil
}

func (f *DeleteFlow[ID]) Err() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

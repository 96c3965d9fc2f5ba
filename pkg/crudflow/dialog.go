// Package crudflow 是管理页面增删改对话框的状态机。
//
//	Closed --Open--> Open --Submit--> Submitting --ok--> Closed (+Refetch)
//	                  ^                    |
//	                  +------- error ------+
package crudflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrBusy 提交尚未完成
	ErrBusy = errors.New("submission in progress")
	// ErrClosed 对话框未打开
	ErrClosed = errors.New("dialog is closed")
	// ErrNoPending 没有待确认的删除
	ErrNoPending = errors.New("no pending delete")
)

// Phase 对话框所处阶段
type Phase int

const (
	Closed Phase = iota
	Open
	Submitting
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Submitting:
		return "submitting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ModeValidator 由表单类型实现，用于只在新建或编辑时生效的规则，
// 例如新建用户时密码必填
type ModeValidator interface {
	ValidateMode(editing bool) error
}

// ValidationError 客户端校验失败，Fields 以 json 字段名为键
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, msg := range e.Fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// Actions 是对话框依赖的远程操作
type Actions[T any] struct {
	Create  func(ctx context.Context, form T) error
	Update  func(ctx context.Context, form T) error
	Refetch func()
}

// Dialog 新建/编辑对话框
type Dialog[T any] struct {
	mu       sync.Mutex
	actions  Actions[T]
	validate *validator.Validate

	phase   Phase
	editing bool
	form    T
	errMsg  string
	fields  map[string]string
}

// NewDialog 创建处于 Closed 状态的对话框
func NewDialog[T any](actions Actions[T]) *Dialog[T] {
	return &Dialog[T]{actions: actions, validate: newValidator()}
}

// Open 打开对话框。entity 为空表示新建，否则以其内容预填并进入编辑。
func (d *Dialog[T]) Open(entity *T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == Submitting {
		return
	}
	var zero T
	d.form = zero
	d.editing = entity != nil
	if entity != nil {
		d.form = *entity
	}
	d.errMsg = ""
	d.fields = nil
	d.phase = Open
}

// Close 关闭对话框并清空表单；提交中不可关闭
func (d *Dialog[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == Submitting {
		return
	}
	d.reset()
}

// Submit 校验并提交表单。成功后对话框关闭并触发一次 Refetch；
// 失败时保持打开，Err 为服务端消息原文。
func (d *Dialog[T]) Submit(ctx context.Context, form T) error {
	d.mu.Lock()
	switch d.phase {
	case Submitting:
		d.mu.Unlock()
		return ErrBusy
	case Closed:
		d.mu.Unlock()
		return ErrClosed
	}
	d.form = form
	if verr := d.check(form); verr != nil {
		d.fields = verr.Fields
		d.errMsg = verr.Error()
		d.mu.Unlock()
		return verr
	}
	d.fields = nil
	d.errMsg = ""
	d.phase = Submitting
	editing := d.editing
	d.mu.Unlock()

	call := d.actions.Create
	if editing {
		call = d.actions.Update
	}
	var err error
	if call == nil {
		err = errors.New("operation not supported")
	} else {
		err = call(ctx, form)
	}

	d.mu.Lock()
	if err != nil {
		d.phase = Open
		d.errMsg = err.Error()
		d.mu.Unlock()
		return err
	}
	d.reset()
	d.mu.Unlock()

	if d.actions.Refetch != nil {
		d.actions.Refetch()
	}
	return nil
}

func (d *Dialog[T]) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Editing 为 true 表示对话框以编辑模式打开
func (d *Dialog[T]) Editing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.editing
}

func (d *Dialog[T]) Form() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.form
}

// Err 最近一次提交失败的消息
func (d *Dialog[T]) Err() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errMsg
}

// FieldErrors 最近一次客户端校验的字段错误
func (d *Dialog[T]) FieldErrors() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.fields))
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

func (d *Dialog[T]) reset() {
	var zero T
	d.form = zero
	d.phase = Closed
	d.editing = false
	d.errMsg = ""
	d.fields = nil
}

func (d *Dialog[T]) check(form T) *ValidationError {
	fields := map[string]string{}
	if err := d.validate.Struct(form); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				fields[fe.Field()] = describe(fe)
			}
		} else {
			fields["_"] = err.Error()
		}
	}
	if mv, ok := any(form).(ModeValidator); ok {
		if err := mv.ValidateMode(d.editing); err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				if _, exists := fields[fe.Field]; !exists {
					fields[fe.Field] = fe.Message
				}
			} else {
				fields["_"] = err.Error()
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// FieldError 由 ModeValidator 返回，指明出错字段
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Message }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "email":
		return field + " must be a valid email"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed on %s", field, fe.Tag())
	}
}

package todolist

import (
	"errors"

	"github.com/codewandler/estodo/core/es"
)

// Event is the closed set of events of a TodoList.
type Event interface {
	es.Event
	isTodoListEvent()
}

const (
	TypeStarted       = "TodoListStarted"
	TypeItemAdded     = "TodoItemAdded"
	TypeItemUpdated   = "TodoItemUpdated"
	TypeItemDiscarded = "TodoItemDiscarded"
	TypeDiscarded     = "TodoListDiscarded"
)

type (
	TodoListStarted struct {
		OwnerID string `json:"owner_id"`
	}

	TodoItemAdded struct {
		Item string `json:"item"`
	}

	TodoItemUpdated struct {
		Index int    `json:"index"`
		Item  string `json:"item"`
	}

	TodoItemDiscarded struct {
		Index int `json:"index"`
	}

	// TodoListDiscarded carries the owner so projections need not load the list.
	TodoListDiscarded struct {
		OwnerID string `json:"owner_id"`
	}
)

func (*TodoListStarted) EventType() string   { return TypeStarted }
func (*TodoItemAdded) EventType() string     { return TypeItemAdded }
func (*TodoItemUpdated) EventType() string   { return TypeItemUpdated }
func (*TodoItemDiscarded) EventType() string { return TypeItemDiscarded }
func (*TodoListDiscarded) EventType() string { return TypeDiscarded }

func (*TodoListStarted) isTodoListEvent()   {}
func (*TodoItemAdded) isTodoListEvent()     {}
func (*TodoItemUpdated) isTodoListEvent()   {}
func (*TodoItemDiscarded) isTodoListEvent() {}
func (*TodoListDiscarded) isTodoListEvent() {}

func (*TodoListStarted) CreatesAggregate()    {}
func (*TodoListDiscarded) DiscardsAggregate() {}

var errEmptyItem = errors.New("item is empty")

func (e *TodoListStarted) Validate() error {
	if e.OwnerID == "" {
		return errors.New("owner id is empty")
	}
	return nil
}

func (e *TodoItemAdded) Validate() error {
	if e.Item == "" {
		return errEmptyItem
	}
	return nil
}

func (e *TodoItemUpdated) Validate() error {
	if e.Item == "" {
		return errEmptyItem
	}
	return nil
}

// NewEvent decodes a type tag into an empty event of this aggregate.
func NewEvent(eventType string) (es.Event, error) {
	switch eventType {
	case TypeStarted:
		return &TodoListStarted{}, nil
	case TypeItemAdded:
		return &TodoItemAdded{}, nil
	case TypeItemUpdated:
		return &TodoItemUpdated{}, nil
	case TypeItemDiscarded:
		return &TodoItemDiscarded{}, nil
	case TypeDiscarded:
		return &TodoListDiscarded{}, nil
	}
	return nil, es.UnknownEvent(eventType)
}

// Package todolist is the todo list aggregate: an owner, an ordered list of
// items, and a tombstone once the list is discarded.
package todolist

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/codewandler/estodo/core/es"
	"github.com/codewandler/estodo/core/es/assert"
)

const AggType = "todo_list"

// ErrIndexOutOfRange is returned for an item index outside the list.
var ErrIndexOutOfRange = fmt.Errorf("%w: index out of range", es.ErrValidation)

type TodoList struct {
	es.BaseAggregate

	OwnerID string   `json:"owner_id"`
	Items   []string `json:"items"`
}

func (l *TodoList) GetAggType() string { return AggType }

func (l *TodoList) NewEvent(eventType string) (es.Event, error) { return NewEvent(eventType) }

// Start creates a new list for owner. The returned list has one staged event.
func Start(id uuid.UUID, ownerID string) (*TodoList, error) {
	l := &TodoList{}
	l.SetID(id)
	if err := es.RaiseAndApply(l, &TodoListStarted{OwnerID: ownerID}); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *TodoList) AddItem(item string) error {
	return l.Checked(l.NotDiscarded(), es.RaiseAndApplyD(l, &TodoItemAdded{Item: item}))
}

func (l *TodoList) UpdateItem(index int, item string) error {
	return l.Checked(
		assert.All(l.NotDiscarded(), l.indexInRange(index)),
		es.RaiseAndApplyD(l, &TodoItemUpdated{Index: index, Item: item}),
	)
}

func (l *TodoList) DiscardItem(index int) error {
	return l.Checked(
		assert.All(l.NotDiscarded(), l.indexInRange(index)),
		es.RaiseAndApplyD(l, &TodoItemDiscarded{Index: index}),
	)
}

// Discard tombstones the list. Every later command fails with es.ErrAlreadyDiscarded.
func (l *TodoList) Discard() error {
	return l.Checked(l.NotDiscarded(), es.RaiseAndApplyD(l, &TodoListDiscarded{OwnerID: l.OwnerID}))
}

func (l *TodoList) indexInRange(index int) assert.Cond {
	return assert.Wrap(ErrIndexOutOfRange, assert.InRange(index, len(l.Items), "item index"))
}

// Apply is the mutator. Checks run before any field is touched.
func (l *TodoList) Apply(event es.Event) error {
	ev, ok := event.(Event)
	if !ok {
		return es.UnknownEvent(event.EventType())
	}

	switch e := ev.(type) {
	case *TodoListStarted:
		l.OwnerID = e.OwnerID
		l.Items = []string{}
	case *TodoItemAdded:
		l.Items = append(l.Items, e.Item)
	case *TodoItemUpdated:
		if err := l.indexInRange(e.Index).Check(); err != nil {
			return err
		}
		l.Items[e.Index] = e.Item
	case *TodoItemDiscarded:
		if err := l.indexInRange(e.Index).Check(); err != nil {
			return err
		}
		l.Items = slices.Delete(l.Items, e.Index, e.Index+1)
	case *TodoListDiscarded:
	default:
		return es.UnknownEvent(event.EventType())
	}
	return nil
}

var _ es.Aggregate = (*TodoList)(nil)

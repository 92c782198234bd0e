package es

import (
	"errors"

	"github.com/google/uuid"
)

const counterAggType = "counter"

type counterEvent interface {
	Event
	isCounterEvent()
}

type (
	counterOpened struct {
		Name string `json:"name"`
	}
	counterIncremented struct {
		By int `json:"by"`
	}
	counterClosed struct{}
)

func (*counterOpened) EventType() string      { return "counter_opened" }
func (*counterIncremented) EventType() string { return "counter_incremented" }
func (*counterClosed) EventType() string      { return "counter_closed" }

func (*counterOpened) CreatesAggregate()  {}
func (*counterClosed) DiscardsAggregate() {}

func (*counterOpened) isCounterEvent()      {}
func (*counterIncremented) isCounterEvent() {}
func (*counterClosed) isCounterEvent()      {}

func (e *counterIncremented) Validate() error {
	if e.By <= 0 {
		return errors.New("increment must be positive")
	}
	return nil
}

type counter struct {
	BaseAggregate
	Name string
	N    int
}

func (c *counter) GetAggType() string { return counterAggType }

func (c *counter) NewEvent(eventType string) (Event, error) {
	switch eventType {
	case "counter_opened":
		return &counterOpened{}, nil
	case "counter_incremented":
		return &counterIncremented{}, nil
	case "counter_closed":
		return &counterClosed{}, nil
	}
	return nil, UnknownEvent(eventType)
}

func (c *counter) Apply(ev Event) error {
	e, ok := ev.(counterEvent)
	if !ok {
		return UnknownEvent(ev.EventType())
	}
	switch e := e.(type) {
	case *counterOpened:
		c.Name = e.Name
	case *counterIncremented:
		c.N += e.By
	case *counterClosed:
	default:
		return UnknownEvent(ev.EventType())
	}
	return nil
}

func openCounter(id uuid.UUID, name string) (*counter, error) {
	c := &counter{}
	c.SetID(id)
	if err := RaiseAndApply(c, &counterOpened{Name: name}); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *counter) Inc(by int) error {
	return c.Checked(c.NotDiscarded(), RaiseAndApplyD(c, &counterIncremented{By: by}))
}

func (c *counter) Close() error {
	return c.Checked(c.NotDiscarded(), RaiseAndApplyD(c, &counterClosed{}))
}

// foreignEvent belongs to no aggregate.
type foreignEvent struct{}

func (*foreignEvent) EventType() string { return "foreign" }

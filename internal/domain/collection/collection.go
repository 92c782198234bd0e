// Package collection is the event-sourced membership set that lists the todo
// lists of one owner.
package collection

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codewandler/estodo/core/ds"
	"github.com/codewandler/estodo/core/es"
)

const AggType = "todo_list_collection"

// Namespace seeds collection IDs. Changing it orphans every stored collection.
var Namespace = uuid.MustParse("3c2a7d4e-8f1b-4b6a-9d2e-5f0c1a7b9e64")

// IDFor derives the collection ID of ownerID.
func IDFor(ownerID string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(ownerID))
}

type Event interface {
	es.Event
	isCollectionEvent()
}

const (
	TypeCreated     = "CollectionCreated"
	TypeItemAdded   = "ItemAdded"
	TypeItemRemoved = "ItemRemoved"
)

type (
	CollectionCreated struct {
		OwnerID string `json:"owner_id"`
	}
	ItemAdded struct {
		ItemID uuid.UUID `json:"item_id"`
	}
	ItemRemoved struct {
		ItemID uuid.UUID `json:"item_id"`
	}
)

func (*CollectionCreated) EventType() string { return TypeCreated }
func (*ItemAdded) EventType() string         { return TypeItemAdded }
func (*ItemRemoved) EventType() string       { return TypeItemRemoved }

func (*CollectionCreated) isCollectionEvent() {}
func (*ItemAdded) isCollectionEvent()         {}
func (*ItemRemoved) isCollectionEvent()       {}

func (*CollectionCreated) CreatesAggregate() {}

func (e *CollectionCreated) Validate() error {
	if e.OwnerID == "" {
		return errors.New("owner id is empty")
	}
	return nil
}

func NewEvent(eventType string) (es.Event, error) {
	switch eventType {
	case TypeCreated:
		return &CollectionCreated{}, nil
	case TypeItemAdded:
		return &ItemAdded{}, nil
	case TypeItemRemoved:
		return &ItemRemoved{}, nil
	}
	return nil, es.UnknownEvent(eventType)
}

type Collection struct {
	es.BaseAggregate

	OwnerID string
	members ds.Set[uuid.UUID]
}

func (c *Collection) GetAggType() string                          { return AggType }
func (c *Collection) NewEvent(eventType string) (es.Event, error) { return NewEvent(eventType) }

// New creates the collection of ownerID under its derived ID.
func New(ownerID string) (*Collection, error) {
	c := &Collection{}
	c.SetID(IDFor(ownerID))
	if err := es.RaiseAndApply(c, &CollectionCreated{OwnerID: ownerID}); err != nil {
		return nil, err
	}
	return c, nil
}

// Add records itemID as a member. Adding a member twice raises no event.
func (c *Collection) Add(itemID uuid.UUID) error {
	if c.members.Contains(itemID) {
		return nil
	}
	return c.Checked(c.NotDiscarded(), es.RaiseAndApplyD(c, &ItemAdded{ItemID: itemID}))
}

// Remove drops itemID. Removing a non-member raises no event.
func (c *Collection) Remove(itemID uuid.UUID) error {
	if !c.members.Contains(itemID) {
		return nil
	}
	return c.Checked(c.NotDiscarded(), es.RaiseAndApplyD(c, &ItemRemoved{ItemID: itemID}))
}

func (c *Collection) Contains(itemID uuid.UUID) bool { return c.members.Contains(itemID) }
func (c *Collection) Len() int                       { return c.members.Len() }

// Members returns the member IDs in the order they were added.
func (c *Collection) Members() []uuid.UUID { return c.members.Values() }

// MemberSet returns a copy of the members.
func (c *Collection) MemberSet() *ds.Set[uuid.UUID] { return c.members.Copy() }

func (c *Collection) Apply(event es.Event) error {
	ev, ok := event.(Event)
	if !ok {
		return es.UnknownEvent(event.EventType())
	}

	switch e := ev.(type) {
	case *CollectionCreated:
		c.OwnerID = e.OwnerID
	case *ItemAdded:
		if !c.members.Add(e.ItemID) {
			return fmt.Errorf("%w: %s already a member", es.ErrInvariantViolation, e.ItemID)
		}
	case *ItemRemoved:
		if !c.members.Remove(e.ItemID) {
			return fmt.Errorf("%w: %s not a member", es.ErrInvariantViolation, e.ItemID)
		}
	default:
		return es.UnknownEvent(event.EventType())
	}
	return nil
}

var _ es.Aggregate = (*Collection)(nil)

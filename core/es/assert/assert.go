// Package assert composes named preconditions for aggregate commands.
package assert

import (
	"fmt"
)

type Func func() error
type CondFunc func() bool

type Cond interface {
	String() string
	Eval() bool
	Check() error
}

type cond struct {
	name  string
	cond  CondFunc
	check func() error
}

func (c *cond) Check() error   { return c.check() }
func (c *cond) String() string { return c.name }
func (c *cond) Eval() bool     { return c.cond() }

func newCond(name string, condFn CondFunc) *cond {
	return &cond{name: name, cond: condFn, check: func() error {
		if !condFn() {
			return fmt.Errorf("assertion failed: %s", name)
		}
		return nil
	}}
}

func Not(c Cond) Cond {
	return newCond(fmt.Sprintf("[not](%s)", c.String()), func() bool { return !c.Eval() })
}
func True(v bool, name string) Cond  { return newCond(name, func() bool { return v }) }
func False(v bool, name string) Cond { return newCond(name, func() bool { return !v }) }

// InRange holds when 0 <= i < n.
func InRange(i, n int, name string) Cond {
	return newCond(fmt.Sprintf("%s %d in [0,%d)", name, i, n), func() bool { return i >= 0 && i < n })
}

// Wrap makes a failing c report err, so callers can match it with errors.Is.
func Wrap(err error, c Cond) Cond {
	w := newCond(c.String(), c.Eval)
	w.check = func() error {
		if !c.Eval() {
			return fmt.Errorf("%w: %s", err, c.String())
		}
		return nil
	}
	return w
}

// All checks cs in order and reports the first failure.
func All(cs ...Cond) Cond {
	all := newCond("all", func() bool {
		for _, c := range cs {
			if !c.Eval() {
				return false
			}
		}
		return true
	})

	all.check = func() error {
		for _, c := range cs {
			if err := c.Check(); err != nil {
				return err
			}
		}
		return nil
	}

	return all
}

func Assert(cond ...Cond) Func {
	return All(cond...).Check
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/estodo/internal/app"
)

// walkthrough starts a list for owner, edits it, discards it and logs what
// the owner's collection looks like along the way.
func walkthrough(ctx context.Context, log *slog.Logger, todo *app.TodoApp, owner string) error {
	showCollection := func(step string) error {
		ids, err := todo.GetTodoListCollection(ctx, owner)
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		log.Info(step, slog.String("owner", owner), slog.Any("lists", ids))
		return nil
	}

	if err := showCollection("before start"); err != nil {
		return err
	}
	id, err := todo.StartTodoList(ctx, owner)
	if err != nil {
		return fmt.Errorf("start list: %w", err)
	}
	if err := showCollection("after start"); err != nil {
		return err
	}

	steps := []struct {
		name string
		do   func() error
	}{
		{"add item", func() error { return todo.AddItem(ctx, id, "item1") }},
		{"update item", func() error { return todo.UpdateItem(ctx, id, 0, "item1.1") }},
		{"discard item", func() error { return todo.DiscardItem(ctx, id, 0) }},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		list, err := todo.GetTodoList(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		log.Info(step.name, slog.String("list", id.String()), slog.Any("items", list.Items), list.GetVersion().SlogAttr())
	}

	if err := todo.DiscardList(ctx, id); err != nil {
		return fmt.Errorf("discard list: %w", err)
	}
	list, err := todo.GetTodoList(ctx, id)
	if err != nil {
		return fmt.Errorf("load discarded list: %w", err)
	}
	log.Info("list discarded", slog.String("list", id.String()), slog.Bool("discarded", list.IsDiscarded()))
	return showCollection("after discard")
}

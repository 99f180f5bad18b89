package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ltrt/ltrt/pkg/logger"
)

func TestSafeGroup_RecoversPanic(t *testing.T) {
	g, ctx := NewSafeGroup(context.Background(), logger.NewNopLogger())

	var reported error
	g.GoNamed("crasher", func() error {
		panic("boom")
	}, func(err error) { reported = err })

	err := g.Wait()
	if err == nil || !strings.Contains(err.Error(), `worker "crasher" panic: boom`) {
		t.Fatalf("expected panic error, got %v", err)
	}
	if reported == nil || reported.Error() != err.Error() {
		t.Errorf("done callback saw %v", reported)
	}
	if ctx.Err() == nil {
		t.Error("group context should be cancelled")
	}
}

func TestSafeGroup_FirstErrorIsCause(t *testing.T) {
	g, ctx := NewSafeGroup(context.Background(), logger.NewNopLogger())
	first := errors.New("first")

	g.Go(func() error { return first })
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := g.Wait(); !errors.Is(err, first) {
		t.Fatalf("expected first error, got %v", err)
	}
	if !errors.Is(context.Cause(ctx), first) {
		t.Errorf("expected cause %v, got %v", first, context.Cause(ctx))
	}
}

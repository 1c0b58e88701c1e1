package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeFlags struct {
	stop  map[string]bool
	err   error
	reads int
}

func (f *fakeFlags) StopFlag(ctx context.Context, phone string) (bool, error) {
	f.reads++
	return f.stop[phone], f.err
}

func TestShouldSuppress(t *testing.T) {
	flags := &fakeFlags{stop: map[string]bool{"573009998877": true}}
	g := New(flags)
	ctx := context.Background()

	assert.True(t, g.ShouldSuppress(ctx, "573009998877", false))
	assert.False(t, g.ShouldSuppress(ctx, "573001112233", false))
}

func TestShouldSuppressAuthorizedGroupBypassesFlag(t *testing.T) {
	flags := &fakeFlags{stop: map[string]bool{"573009998877": true}}
	g := New(flags)

	assert.False(t, g.ShouldSuppress(context.Background(), "573009998877", true))
	assert.Zero(t, flags.reads, "group context must not touch the store")
}

func TestShouldSuppressFailsOpen(t *testing.T) {
	g := New(&fakeFlags{stop: map[string]bool{"573009998877": true}, err: errors.New("connection refused")})
	assert.False(t, g.ShouldSuppress(context.Background(), "573009998877", false))
}

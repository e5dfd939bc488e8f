package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainReadsInQueueOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := mr.RPush("sysmon_events", `{"EventID":1}`, `{"EventID":3}`, `{"EventID":11}`)
	require.NoError(t, err)

	c, err := NewConsumer(Config{Addr: mr.Addr(), Key: "sysmon_events"})
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Drain(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, `{"EventID":1}`, string(first[0]))

	rest, err := c.Drain(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"EventID":11}`, string(rest[0]))

	empty, err := c.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewConsumerRequiresKey(t *testing.T) {
	_, err := NewConsumer(Config{})
	assert.Error(t, err)
}

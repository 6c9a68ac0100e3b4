package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "import", Body: []byte(`{"id":"1"}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "import", msg.Type)
		assert.Equal(t, `{"id":"1"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	for range msgs {
	}
}

func TestSerialize(t *testing.T) {
	msg := deserialize(serialize(Message{Type: "import", Body: []byte("a|b")}))
	assert.Equal(t, "import", msg.Type)
	assert.Equal(t, "a|b", string(msg.Body))

	msg = deserialize("raw")
	assert.Empty(t, msg.Type)
	assert.Equal(t, "raw", string(msg.Body))
}

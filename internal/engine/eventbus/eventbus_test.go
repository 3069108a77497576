package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilentLoggerDropsMessagesButFlashes(t *testing.T) {
	bus := NewBus(4)
	p, cache := NewPrompter(8)
	l := NewSilentLogger(bus, "item", p, cache)
	l.Msg("hello")
	l.EmitFlash()

	select {
	case e := <-bus.Chan():
		assert.Equal(t, Flash, e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected flash event")
	}
	select {
	case e := <-bus.Chan():
		t.Fatalf("unexpected event from silent logger: %+v", e)
	default:
	}
}

func TestActiveLoggerStampsFilterID(t *testing.T) {
	bus := NewBus(4)
	p, cache := NewPrompter(8)
	l := NewLogger(bus, "item", p, cache)
	l.SetFilterID("S1 - a")
	l.Msg("hi")

	e := <-bus.Chan()
	assert.Equal(t, "S1 - a", e.Payload["filter_id"])
}

func TestPromptBlocksUntilAnswered(t *testing.T) {
	bus := NewBus(4)
	p, cache := NewPrompter(8)
	l := NewLogger(bus, "item", p, cache)

	done := make(chan string, 1)
	go func() {
		answer, err := l.Ask("are you sure?", Payload{"q": "are you sure?"})
		require.NoError(t, err)
		done <- answer
	}()

	e := <-bus.Chan()
	require.Equal(t, Prompt, e.Type)
	promptID := e.Payload["prompter_id"].(string)
	require.NoError(t, AnswerPrompt(p, promptID, "yes"))

	select {
	case answer := <-done:
		assert.Equal(t, "yes", answer)
	case <-time.After(time.Second):
		t.Fatal("prompt never answered")
	}
}

func TestIdenticalPromptsAskedOnce(t *testing.T) {
	bus := NewBus(4)
	p, cache := NewPrompter(8)
	l := NewLogger(bus, "item", p, cache)
	cache.Add("cached question", "42")

	answer, err := l.Ask("cached question", Payload{})
	require.NoError(t, err)
	assert.Equal(t, "42", answer)

	select {
	case e := <-bus.Chan():
		t.Fatalf("cached prompt should not re-emit, got %+v", e)
	default:
	}
}

package eventbus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type jobOpened struct {
	number string
}

type jobMoved struct {
	from string
	to   string
}

func capturingLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log, buf
}

func TestPublish_DeliversToMatchingHandler(t *testing.T) {
	log, _ := capturingLogger(logrus.WarnLevel)
	bus := NewEventPublisher(log)

	var got string
	bus.Subscribe(func(e *jobOpened) {
		got = e.number
	})
	bus.Publish(&jobOpened{number: "RJ-202603-0001"})

	require.Equal(t, "RJ-202603-0001", got)
}

func TestPublish_SkipsMismatchedHandler(t *testing.T) {
	log, buf := capturingLogger(logrus.WarnLevel)
	bus := NewEventPublisher(log)

	bus.Subscribe(func(e *jobOpened) {
		t.Error("handler for a different event type must not fire")
	})
	bus.Publish(&jobMoved{from: "CREATED", to: "IN_DIAGNOSIS"})

	require.Contains(t, buf.String(), "no matching subscribers")
}

func TestMatchSignature(t *testing.T) {
	require.True(t, MatchSignature(func(e *jobOpened) {}, []interface{}{&jobOpened{}}))
	require.False(t, MatchSignature(func(e *jobOpened) {}, []interface{}{&jobMoved{}}))
	require.False(t, MatchSignature(func(e *jobOpened) {}, []interface{}{}))
	require.False(t, MatchSignature(func(e *jobOpened) {}, []interface{}{&jobOpened{}, &jobOpened{}}))

	// Interface parameters accept any implementation.
	require.True(t, MatchSignature(func(ctx context.Context) {}, []interface{}{context.Background()}))
}

func TestPublish_PanicRecovery(t *testing.T) {
	t.Parallel()

	t.Run("panic is caught and logged with args", func(t *testing.T) {
		log, buf := capturingLogger(logrus.ErrorLevel)
		bus := NewEventPublisher(log)

		bus.Subscribe(func(e *jobOpened) {
			panic("intentional panic for testing")
		})
		bus.Publish(&jobOpened{number: "RJ-202603-0002"})

		out := buf.String()
		require.Contains(t, out, "panicked")
		require.Contains(t, out, "intentional panic for testing")
		require.Contains(t, out, "args")
	})

	t.Run("a panicking handler does not stop the others", func(t *testing.T) {
		log, buf := capturingLogger(logrus.ErrorLevel)
		bus := NewEventPublisher(log)

		var first, third bool
		bus.Subscribe(func(e *jobOpened) { first = true })
		bus.Subscribe(func(e *jobOpened) { panic("middle handler") })
		bus.Subscribe(func(e *jobOpened) { third = true })

		bus.Publish(&jobOpened{})

		require.True(t, first)
		require.True(t, third)
		require.Contains(t, buf.String(), "panicked")
	})

	t.Run("event counts as unhandled when every handler panics", func(t *testing.T) {
		log, buf := capturingLogger(logrus.WarnLevel)
		bus := NewEventPublisher(log)

		bus.Subscribe(func(e *jobOpened) { panic("always") })
		bus.Publish(&jobOpened{})

		require.Contains(t, buf.String(), "no matching subscribers")
	})

	t.Run("event counts as handled when one handler survives", func(t *testing.T) {
		log, buf := capturingLogger(logrus.WarnLevel)
		bus := NewEventPublisher(log)

		var called bool
		bus.Subscribe(func(e *jobOpened) { panic("first") })
		bus.Subscribe(func(e *jobOpened) { called = true })

		bus.Publish(&jobOpened{})

		require.True(t, called)
		require.NotContains(t, buf.String(), "no matching subscribers")
	})
}

func TestPublishE(t *testing.T) {
	t.Parallel()

	t.Run("no matching handler is ErrNoSubscribers", func(t *testing.T) {
		bus := NewEventPublisher(logrus.New()).(EventBusWithError)
		err := bus.PublishE(&jobOpened{})
		require.ErrorIs(t, err, ErrNoSubscribers)
	})

	t.Run("handler errors are joined", func(t *testing.T) {
		bus := NewEventPublisher(logrus.New()).(EventBusWithError)

		err1 := errors.New("billing rejected")
		err2 := errors.New("notification rejected")
		bus.Subscribe(func(e *jobOpened) error { return err1 })
		bus.Subscribe(func(e *jobOpened) error { return err2 })

		err := bus.PublishE(&jobOpened{})
		require.ErrorIs(t, err, err1)
		require.ErrorIs(t, err, err2)
	})

	t.Run("panic surfaces as error without stopping the rest", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)

		var called bool
		bus.Subscribe(func(e *jobOpened) error { panic("boom") })
		bus.Subscribe(func(e *jobOpened) error { called = true; return nil })

		err := bus.PublishE(&jobOpened{})
		require.Error(t, err)
		require.True(t, called)
	})

	t.Run("non-error return is ErrInvalidHandlerReturn", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)
		bus.Subscribe(func(e *jobOpened) int { return 1 })

		err := bus.PublishE(&jobOpened{})
		require.ErrorIs(t, err, ErrInvalidHandlerReturn)
	})

	t.Run("handlers returning nothing succeed", func(t *testing.T) {
		bus := NewEventPublisher(nil).(EventBusWithError)

		var called bool
		bus.Subscribe(func(e *jobMoved) { called = true })

		require.NoError(t, bus.PublishE(&jobMoved{from: "TESTING", to: "QUALITY_CHECK"}))
		require.True(t, called)
	})
}

func TestUnsubscribeAndClear(t *testing.T) {
	bus := NewEventPublisher(nil)

	handler := func(e *jobOpened) {}
	bus.Subscribe(handler)
	bus.Subscribe(func(e *jobMoved) {})
	require.Equal(t, 2, bus.SubscribersCount())

	bus.Unsubscribe(handler)
	require.Equal(t, 1, bus.SubscribersCount())

	bus.Clear()
	require.Equal(t, 0, bus.SubscribersCount())
}

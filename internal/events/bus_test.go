package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var got []Type
	bus.Subscribe(func(evt Event) { got = append(got, evt.Type) })
	bus.Subscribe(func(evt Event) { got = append(got, evt.Type) })

	bus.Publish(Event{Type: FileUploaded})

	require.Equal(t, []Type{FileUploaded, FileUploaded}, got)
}

func TestBusSubscribeToFiltersByType(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var got []Event
	bus.SubscribeTo(CodeExecuted, func(evt Event) { got = append(got, evt) })

	bus.Publish(Event{Type: FileUploaded, Payload: TransferredPayload{Filename: "a.g"}})
	bus.Publish(Event{Type: CodeExecuted, Payload: CodePayload{Code: "M122", Reply: "ok"}})

	require.Len(t, got, 1)
	require.Equal(t, CodeExecuted, got[0].Type)
	require.Equal(t, CodePayload{Code: "M122", Reply: "ok"}, got[0].Payload)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(func(Event) { calls++ })

	bus.Publish(Event{Type: DirectoryCreated})
	unsubscribe()
	unsubscribe() // safe to call twice
	bus.Publish(Event{Type: DirectoryCreated})

	require.Equal(t, 1, calls)
}

package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		SessionID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:        time.Unix(0, 0),
		Stage:     StageSessionStart,
		Target:    "alice",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that counts flagged followers.
func ExampleSink() {
	var flagged int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageItemAnalyzed && evt.Reason != "" {
				flagged++
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	id := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	for _, evt := range []Event{
		{SessionID: id, TS: time.Unix(0, 0), Stage: StageItemAnalyzed, Handle: "bot1", Reason: "ratio"},
		{SessionID: id, TS: time.Unix(1, 0), Stage: StageItemAnalyzed, Handle: "human"},
	} {
		hub.Emit(evt)
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("flagged followers: %d\n", flagged)
	// Output:
	// flagged followers: 1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

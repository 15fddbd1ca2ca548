package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type capturedMessage struct {
	topic   string
	key     []byte
	payload []byte
}

type fakePublisher struct {
	messages []capturedMessage
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, capturedMessage{topic: topic, key: key, payload: payload})
	return nil
}

func TestQueueEmitter_PublishesVersionedJSON(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	em, err := NewQueueEmitter(pub)
	if err != nil {
		t.Fatalf("NewQueueEmitter: %v", err)
	}

	ev := DepositEvent{
		Version:      TopicDeposit,
		DepositKey:   "0xaa",
		DestChainKey: 7,
		Asset:        "0xbb",
		Amount:       "100",
		Seq:          3,
	}
	if err := em.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("messages: %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.topic != TopicDeposit {
		t.Fatalf("topic: %q", msg.topic)
	}
	if string(msg.key) != "0xaa" {
		t.Fatalf("key: %q", msg.key)
	}
	var decoded DepositEvent
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != ev {
		t.Fatalf("payload round trip: %+v", decoded)
	}
}

func TestQueueEmitter_PropagatesPublishError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("broker down")
	em, err := NewQueueEmitter(&fakePublisher{err: wantErr})
	if err != nil {
		t.Fatalf("NewQueueEmitter: %v", err)
	}
	if err := em.Emit(context.Background(), WithdrawEvent{Version: TopicWithdraw, WithdrawKey: "0x01"}); !errors.Is(err, wantErr) {
		t.Fatalf("Emit: got %v", err)
	}
}

func TestMemoryEmitter_ByTopic(t *testing.T) {
	t.Parallel()

	em := NewMemoryEmitter()
	ctx := context.Background()

	_ = em.Emit(ctx, DepositEvent{Version: TopicDeposit, DepositKey: "0x01"})
	_ = em.Emit(ctx, WithdrawEvent{Version: TopicWithdraw, WithdrawKey: "0x02"})
	_ = em.Emit(ctx, DepositEvent{Version: TopicDeposit, DepositKey: "0x03"})

	if got := len(em.Events()); got != 3 {
		t.Fatalf("Events: %d", got)
	}
	deposits := em.ByTopic(TopicDeposit)
	if len(deposits) != 2 {
		t.Fatalf("ByTopic deposits: %d", len(deposits))
	}
	if deposits[1].EventKey() != "0x03" {
		t.Fatalf("order: %q", deposits[1].EventKey())
	}
}

func TestApprovalEventTopicFollowsVersion(t *testing.T) {
	t.Parallel()

	for _, topic := range []string{TopicWithdrawApproved, TopicWithdrawCancelled, TopicWithdrawReenabled} {
		ev := ApprovalEvent{Version: topic, WithdrawKey: "0x01"}
		if ev.EventTopic() != topic {
			t.Fatalf("EventTopic: got %q want %q", ev.EventTopic(), topic)
		}
	}
}

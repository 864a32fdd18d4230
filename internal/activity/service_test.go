package activity

import (
	"context"
	"testing"
)

func TestService_AppendRequiresCampaignAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeQueueStarted}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{CampaignID: "camp-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogCallEvent(context.Background(), "camp-1", "cs-1", "ct-1", EventTypeCallCompleted, "call finished"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("id/timestamp not filled: %+v", evs[0])
	}
	if evs[0].CallSessionID != "cs-1" {
		t.Fatalf("expected call session captured")
	}
	if evs[0].Type != EventTypeCallCompleted {
		t.Fatalf("expected call_completed")
	}
}

func TestService_ListNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	for _, m := range []string{"first", "second", "third"} {
		if err := svc.LogQueueTransition(context.Background(), "camp-1", EventTypeQueueStarted, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = svc.LogQueueTransition(context.Background(), "camp-2", EventTypeQueueStarted, "other")

	evs, err := svc.List(context.Background(), "camp-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 || evs[0].Message != "third" || evs[1].Message != "second" {
		t.Fatalf("list = %+v", evs)
	}
}

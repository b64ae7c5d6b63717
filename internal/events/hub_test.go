package events

import (
	"strconv"
	"sync"
	"testing"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	h := NewHub(10)
	ch := h.Subscribe("client-1")

	h.Publish(TypeLog, "dispatcher", "hello")

	ev := <-ch
	if ev.Type != TypeLog || ev.Data != "hello" || ev.ID != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHubResubscribeClosesPrevious(t *testing.T) {
	h := NewHub(10)
	first := h.Subscribe("client-1")
	h.Subscribe("client-1")

	if _, ok := <-first; ok {
		t.Error("expected replaced subscription channel to be closed")
	}
	if h.Subscribers() != 1 {
		t.Errorf("expected 1 subscriber, got %d", h.Subscribers())
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(10)
	ch := h.Subscribe("client-1")
	h.Unsubscribe("client-1")
	h.Unsubscribe("client-1")

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	if h.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", h.Subscribers())
	}
}

func TestHubBacklogReplay(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TypeNotice, "", i)
	}

	missed := h.Since(3)
	if len(missed) != 2 || missed[0].ID != 4 || missed[1].ID != 5 {
		t.Errorf("unexpected replay %+v", missed)
	}
	if all := h.Since(0); len(all) != 3 {
		t.Errorf("expected backlog bounded to 3, got %d", len(all))
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	h := NewHub(50)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Subscribe("client-" + strconv.Itoa(i%5))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Publish(TypeLog, "", i)
		}
	}()

	wg.Wait()
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var h *Hub
	var p Publisher = h
	p.Publish(TypeSession, "session", "ignored")
}

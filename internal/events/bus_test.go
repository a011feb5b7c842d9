package events

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func TestPublishFanOut(t *testing.T) {
	b := NewBus(4)
	a, stopA := b.Subscribe()
	c, stopC := b.Subscribe()
	defer stopC()

	b.ProfileStatus("p1", StatusRunning, "")
	for _, ch := range []<-chan Event{a, c} {
		select {
		case evt := <-ch:
			if evt.Type != TypeProfileStatus || evt.ProfileID != "p1" || evt.Status != StatusRunning {
				t.Errorf("event = %+v", evt)
			}
			if evt.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	stopA()
	stopA()
	if b.Subscribers() != 1 {
		t.Errorf("subscribers = %d", b.Subscribers())
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(1)
	_, stop := b.Subscribe()
	defer stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeNotice})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHandleWSStreamsEvents(t *testing.T) {
	b := NewBus(8)
	b.SetSnapshot(func() any { return []string{"p0"} })
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, br, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	// The init frame may arrive in the same read as the handshake.
	var conn io.ReadWriter = raw
	if br != nil {
		conn = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, raw), raw}
	}

	msg, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatal(err)
	}
	var hello initMessage
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != "init" {
		t.Fatalf("init = %s (%v)", msg, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	b.Publish(Event{Type: TypeHostKeyPrompt, ProfileID: "p1", Data: map[string]any{"host": "h"}})

	msg, err = wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatal(err)
	}
	var evt Event
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != TypeHostKeyPrompt || evt.ProfileID != "p1" {
		t.Errorf("event = %+v", evt)
	}
}

func TestHandleSSE(t *testing.T) {
	b := NewBus(8)
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() || sc.Text() != "event: init" {
		t.Fatalf("first line = %q", sc.Text())
	}

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for b.Subscribers() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		b.ProfileStatus("p2", StatusStopped, "")
	}()
	for sc.Scan() {
		if sc.Text() == "event: "+TypeProfileStatus {
			sc.Scan()
			if !strings.Contains(sc.Text(), `"profileId":"p2"`) {
				t.Errorf("data = %q", sc.Text())
			}
			return
		}
	}
	t.Fatal("status event not received")
}

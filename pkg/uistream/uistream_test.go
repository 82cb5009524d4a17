package uistream

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harborchat/valet/pkg/orchestrator"
	"github.com/harborchat/valet/pkg/outcome"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn := dial(t, server)

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(orchestrator.State{Phase: orchestrator.PhaseConfirming, Generation: 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var st orchestrator.State
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if st.Phase != orchestrator.PhaseConfirming || st.Generation != 3 {
		t.Fatalf("got %+v", st)
	}
}

func TestConcurrentBroadcastsShareOneConnection(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn := dial(t, server)

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Broadcasts arrive from resolve goroutines and dismiss timers at once;
	// the connection must see one well-formed frame per call.
	const writers, perWriter = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				hub.Broadcast(orchestrator.State{Phase: orchestrator.PhaseExecuting, Generation: uint64(w*perWriter + i)})
			}
		}(w)
	}
	wg.Wait()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < writers*perWriter; i++ {
		var st orchestrator.State
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("frame %d: ReadJSON: %v", i, err)
		}
		if st.Phase != orchestrator.PhaseExecuting {
			t.Fatalf("frame %d: got phase %q", i, st.Phase)
		}
	}
}

func TestLateJoinerReceivesCurrentState(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	result := outcome.ExecutionResult{Success: true, ActionID: "a1", Message: "done"}
	hub.Broadcast(orchestrator.State{Phase: orchestrator.PhaseResult, Result: &result})

	conn := dial(t, server)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var st orchestrator.State
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if st.Phase != orchestrator.PhaseResult || st.Result == nil || !st.Result.Success {
		t.Fatalf("got %+v", st)
	}
}

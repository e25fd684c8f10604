package wsreg

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialPair spins up an httptest server that upgrades every request and
// registers the resulting socket under city, then dials a client against
// it. The caller gets both ends: the registered Socket (server side) and
// the client *websocket.Conn used to read/write from the test.
func dialPair(t *testing.T, r *Registry, city, remoteIP string) (*Socket, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	socketCh := make(chan *Socket, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s := r.Register(conn, city, remoteIP)
		socketCh <- s
		ReadLoop(s)
		r.Unregister(s)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case s := <-socketCh:
		return s, client
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side registration")
		return nil, nil
	}
}

func TestRegistry_BroadcastDeliversToMatchingCity(t *testing.T) {
	r := New()
	_, client := dialPair(t, r, "springfield", "1.1.1.1")

	r.Broadcast("springfield", "", []byte("hello"))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("payload = %q, want %q", payload, "hello")
	}
}

func TestRegistry_BroadcastSkipsOtherCities(t *testing.T) {
	r := New()
	_, client := dialPair(t, r, "springfield", "1.1.1.1")

	r.Broadcast("shelbyville", "", []byte("hello"))

	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("expected read timeout, got a message for a city this socket never joined")
	}
}

func TestRegistry_BroadcastFilterIPRestrictsDelivery(t *testing.T) {
	r := New()
	_, clientA := dialPair(t, r, "springfield", "1.1.1.1")
	_, clientB := dialPair(t, r, "springfield", "2.2.2.2")

	r.Broadcast("springfield", "1.1.1.1", []byte("only-for-a"))

	_ = clientA.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, payload, err := clientA.ReadMessage(); err != nil || string(payload) != "only-for-a" {
		t.Fatalf("clientA ReadMessage = %q, %v", payload, err)
	}

	_ = clientB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := clientB.ReadMessage(); err == nil {
		t.Fatal("clientB should not have received a message filtered to clientA's IP")
	}
}

func TestRegistry_CountReflectsLiveSockets(t *testing.T) {
	r := New()
	if r.Count() != 0 {
		t.Fatalf("Count() = %d on empty registry, want 0", r.Count())
	}

	_, clientA := dialPair(t, r, "city", "1.1.1.1")
	_, clientB := dialPair(t, r, "city", "2.2.2.2")

	deadline := time.Now().Add(2 * time.Second)
	for r.Count() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := r.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}

	_ = clientA.Close()
	_ = clientB.Close()

	deadline = time.Now().Add(2 * time.Second)
	for r.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := r.Count(); got != 0 {
		t.Fatalf("Count() = %d after both clients closed, want 0", got)
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := New()
	s, _ := dialPair(t, r, "city", "1.1.1.1")

	r.Unregister(s)
	r.Unregister(s) // must not panic on the second call

	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistry_CloseAllClosesEverySocket(t *testing.T) {
	r := New()
	_, clientA := dialPair(t, r, "city", "1.1.1.1")
	_, clientB := dialPair(t, r, "city", "2.2.2.2")

	deadline := time.Now().Add(2 * time.Second)
	for r.Count() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	r.CloseAll(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	_ = clientA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, errA := clientA.ReadMessage()
	_ = clientB.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, errB := clientB.ReadMessage()
	if errA == nil || errB == nil {
		t.Fatal("expected both clients to observe connection closure")
	}
}

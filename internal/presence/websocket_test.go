package presence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newEchoSink(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWebsocketDialerRoundTrip(t *testing.T) {
	server := newEchoSink(t)
	defer server.Close()

	dialer := NewWebsocketDialer()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, err := dialer.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage([]byte(`{"type":"heartbeat"}`)))
}

// Heartbeats and re-authentication run on separate goroutines but share one
// connection; interleaved writes must not trip gorilla's single-writer rule.
func TestWebsocketWritesAreSerialized(t *testing.T) {
	server := newEchoSink(t)
	defer server.Close()

	dialer := NewWebsocketDialer()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, err := dialer.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := conn.WriteMessage([]byte(`{"type":"heartbeat","user_id":"u1"}`)); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent write failed: %v", err)
	}
}

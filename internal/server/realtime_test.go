package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
)

func TestParseTables(t *testing.T) {
	testCases := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "courses", want: []string{"courses"}},
		{raw: " courses , faqs ,, ", want: []string{"courses", "faqs"}},
	}
	for _, testCase := range testCases {
		if got := parseTables(testCase.raw); !reflect.DeepEqual(got, testCase.want) {
			t.Fatalf("parseTables(%q) = %v, want %v", testCase.raw, got, testCase.want)
		}
	}
}

// readEvent returns the data line of the next SSE event named name.
func readEvent(t *testing.T, reader *bufio.Reader, name string) string {
	t.Helper()
	current := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream while waiting for %q: %v", name, err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			current = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && current == name:
			return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestRealtimeStreamDeliversSubscribedTables(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/api/realtime?tables=faqs", http.NoBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	response, err := httpServer.Client().Do(request)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	if contentType := response.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}
	reader := bufio.NewReader(response.Body)
	if ready := readEvent(t, reader, realtimeEventReady); !strings.Contains(ready, "faqs") {
		t.Fatalf("unexpected ready payload %s", ready)
	}

	server.dispatcher.Publish(realtime.ChangeEvent{Event: realtime.EventInsert, Table: "menu_items"})
	server.dispatcher.Publish(realtime.ChangeEvent{Event: realtime.EventInsert, Table: "faqs"})

	change := readEvent(t, reader, realtimeEventChange)
	if !strings.Contains(change, `"table":"faqs"`) || !strings.Contains(change, `"event":"INSERT"`) {
		t.Fatalf("unexpected change payload %s", change)
	}
	readEvent(t, reader, realtimeEventHeartbeat)

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for server.dispatcher.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription was not released after the client left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

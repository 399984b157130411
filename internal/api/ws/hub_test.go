package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/facegroups/internal/auth"
	"github.com/your-org/facegroups/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, owner uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?owner=" + owner.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversOnlyToOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		auth.SetOwner(c, uuid.MustParse(c.Query("owner")))
		hub.HandleWS(c)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	alice, bob := uuid.New(), uuid.New()
	aliceConn := dial(t, srv, alice)
	defer aliceConn.Close()
	bobConn := dial(t, srv, bob)
	defer bobConn.Close()
	waitClients(t, hub, 2)

	hub.Broadcast(models.FaceEvent{Type: models.EventFacesIndexed, OwnerID: bob, ImageID: 1, FaceCount: 2})
	hub.Broadcast(models.FaceEvent{Type: models.EventFacesIndexed, OwnerID: alice, ImageID: 2, FaceCount: 1})

	_ = aliceConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := aliceConn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev models.FaceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.OwnerID != alice || ev.ImageID != 2 {
		t.Errorf("alice received %+v", ev)
	}

	_ = bobConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = bobConn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.OwnerID != bob || ev.ImageID != 1 {
		t.Errorf("bob received %+v", ev)
	}

	aliceConn.Close()
	waitClients(t, hub, 1)
}

package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/lanewatch/pkg/dto"
)

func TestHub_FiltersByStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	watched, other := uuid.New(), uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?stream_id=" + watched.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastEvent(&dto.WSEvent{Type: dto.WSTypeIntrusion, StreamID: other})
	hub.BroadcastEvent(&dto.WSEvent{
		Type:     dto.WSTypeIntrusion,
		StreamID: watched,
		Data:     &dto.IntrusionResponse{VehicleID: 7, FromLane: 1, ToLane: 2},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev dto.WSEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, watched, ev.StreamID)
	require.NotNil(t, ev.Data)
	assert.Equal(t, 7, ev.Data.VehicleID)
	assert.Equal(t, 2, ev.Data.ToLane)
}

func TestHub_ShutdownDropsClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	// Broadcasting after shutdown must not block.
	hub.BroadcastEvent(&dto.WSEvent{Type: dto.WSTypeStreamStatus, StreamID: uuid.New(), Status: "stopped"})
}

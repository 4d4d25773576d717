package hub

import (
	"time"

	"CarryChat/internal/model"
)

// MonitorService gathers hub statistics for the monitor API.
type MonitorService struct {
	hub *Hub
}

func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats returns a snapshot of the registry, typing tracker, and per
// connection rate counters.
func (ms *MonitorService) GetStats() model.MonitorResponse {
	ms.hub.mu.RLock()
	connections := make([]model.ConnectionInfo, 0)
	for userID, userConns := range ms.hub.conns {
		for _, c := range userConns {
			count, _ := c.limiter.Stats()
			connections = append(connections, model.ConnectionInfo{
				ClientID:     c.ID,
				UserID:       userID,
				ConnectedAt:  c.connectedAt.Format(time.RFC3339),
				LastActivity: c.LastActivity().Format(time.RFC3339),
				RateCount:    count,
			})
		}
	}
	onlineUsers := len(ms.hub.conns)
	ms.hub.mu.RUnlock()

	status := "healthy"
	if len(connections) == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:           status,
		TotalConnections: len(connections),
		OnlineUsers:      onlineUsers,
		TypingSessions:   ms.hub.typing.ActiveSessions(),
		Connections:      connections,
	}
}

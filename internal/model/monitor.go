package model

// MonitorResponse is the response for the hub monitor API.
type MonitorResponse struct {
	Status           string           `json:"status"` // "healthy" or "idle"
	TotalConnections int              `json:"totalConnections"`
	OnlineUsers      int              `json:"onlineUsers"`
	TypingSessions   int              `json:"typingSessions"`
	Connections      []ConnectionInfo `json:"connections"`
}

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	ClientID     string `json:"clientId"`
	UserID       string `json:"userId"`
	ConnectedAt  string `json:"connectedAt"`  // ISO timestamp
	LastActivity string `json:"lastActivity"` // ISO timestamp
	RateCount    int    `json:"rateCount"`    // messages in the current window
}

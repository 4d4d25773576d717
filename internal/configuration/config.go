package configuration

import (
	"encoding/json"
	"os"
	"time"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	MessagesCollection      string `json:"messagesCollection"`
	BlocksCollection        string `json:"blocksCollection"`
	NotificationsCollection string `json:"notificationsCollection"`
	UsersCollection         string `json:"usersCollection"`
	SocketRoute             string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort    int `json:"app_port"`
	SocketPort int `json:"socket_port"`
}

type SessionConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// MessagingConfig carries the messaging-core tunables. Durations are in
// seconds in the config file.
type MessagingConfig struct {
	HandshakeTimeoutSeconds int      `json:"handshakeTimeoutSeconds"`
	MaxConnectionsPerUser   int      `json:"maxConnectionsPerUser"`
	TypingTTLSeconds        int      `json:"typingTtlSeconds"`
	RateWindowSeconds       int      `json:"rateWindowSeconds"`
	RateMaxMessages         int      `json:"rateMaxMessages"`
	MaxFrameBytes           int64    `json:"maxFrameBytes"`
	MaxContentLength        int      `json:"maxContentLength"`
	MaxAttachments          int      `json:"maxAttachments"`
	AllowedOrigins          []string `json:"allowedOrigins"`
}

type Config struct {
	ChatDatabase MongoConfig     `json:"mongo"`
	Server       ServerConfig    `json:"server"`
	Session      SessionConfig   `json:"session"`
	Messaging    MessagingConfig `json:"messaging"`
}

func (m MessagingConfig) HandshakeTimeout() time.Duration {
	return time.Duration(m.HandshakeTimeoutSeconds) * time.Second
}

func (m MessagingConfig) TypingTTL() time.Duration {
	return time.Duration(m.TypingTTLSeconds) * time.Second
}

func (m MessagingConfig) RateWindow() time.Duration {
	return time.Duration(m.RateWindowSeconds) * time.Second
}

// Default returns the standard tunables. LoadConfig fills in any zero values
// with these.
func Default() MessagingConfig {
	return MessagingConfig{
		HandshakeTimeoutSeconds: 10,
		MaxConnectionsPerUser:   3,
		TypingTTLSeconds:        3,
		RateWindowSeconds:       60,
		RateMaxMessages:         60,
		MaxFrameBytes:           100 * 1024,
		MaxContentLength:        10_000,
		MaxAttachments:          3,
	}
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config.Messaging)
	return &config, nil
}

func applyDefaults(m *MessagingConfig) {
	defaults := Default()
	if m.HandshakeTimeoutSeconds == 0 {
		m.HandshakeTimeoutSeconds = defaults.HandshakeTimeoutSeconds
	}
	if m.MaxConnectionsPerUser == 0 {
		m.MaxConnectionsPerUser = defaults.MaxConnectionsPerUser
	}
	if m.TypingTTLSeconds == 0 {
		m.TypingTTLSeconds = defaults.TypingTTLSeconds
	}
	if m.RateWindowSeconds == 0 {
		m.RateWindowSeconds = defaults.RateWindowSeconds
	}
	if m.RateMaxMessages == 0 {
		m.RateMaxMessages = defaults.RateMaxMessages
	}
	if m.MaxFrameBytes == 0 {
		m.MaxFrameBytes = defaults.MaxFrameBytes
	}
	if m.MaxContentLength == 0 {
		m.MaxContentLength = defaults.MaxContentLength
	}
	if m.MaxAttachments == 0 {
		m.MaxAttachments = defaults.MaxAttachments
	}
}

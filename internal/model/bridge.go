package model

import "time"

// BridgeStatus is the persisted provisioning state of a bridge.
type BridgeStatus string

const (
	BridgeStatusPending BridgeStatus = "pending"
	BridgeStatusOnline  BridgeStatus = "online"
	BridgeStatusOffline BridgeStatus = "offline"
)

// Control channel message types.
const (
	MessageRegister   = "register"
	MessageRegistered = "registered"
	MessagePing       = "ping"
	MessagePong       = "pong"
	MessageStatus     = "status"
)

// ControlMessage is the inbound envelope sent by a bridge agent.
type ControlMessage struct {
	Type       string `json:"type"`
	BridgeName string `json:"bridge_name,omitempty"`
}

// RegisteredMessage confirms a "register" message.
type RegisteredMessage struct {
	Type     string `json:"type"`
	BridgeID string `json:"bridge_id"`
	Message  string `json:"message"`
}

// PingMessage is sent to every open control channel on the ping interval.
type PingMessage struct {
	Type string `json:"type"`
}

// BridgeConnectionInfo is a point-in-time view of a live control channel.
type BridgeConnectionInfo struct {
	BridgeID    string    `json:"bridgeId"`
	BridgeName  string    `json:"bridgeName"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastPing    time.Time `json:"lastPing"`
}

// BridgeListResponse is the response for GET /bridge/list.
type BridgeListResponse struct {
	Bridges []BridgeConnectionInfo `json:"bridges"`
}

// UploadResponse is the response for successful segment and playlist uploads.
type UploadResponse struct {
	Success bool   `json:"success"`
	File    string `json:"file"`
}

// CreateBridgeRequest is the request body for POST /bridges.
type CreateBridgeRequest struct {
	Host       string `json:"host" binding:"required"`
	Port       int    `json:"port" binding:"required,min=1,max=65535"`
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	StreamPath string `json:"stream_path" binding:"required"`
	CameraID   string `json:"camera_id,omitempty"`
	BackendURL string `json:"backend_url,omitempty"`
}

// AgentConfig is the configuration an on-premises agent needs to reach the relay.
type AgentConfig struct {
	BridgeID   string `json:"bridgeId"`
	APIKey     string `json:"apiKey"`
	RTSPURL    string `json:"rtspUrl"`
	BackendURL string `json:"backendUrl"`
	CameraID   string `json:"cameraId"`
}

// CreateBridgeResponse is the response for POST /bridges.
type CreateBridgeResponse struct {
	BridgeID string      `json:"bridge_id"`
	APIKey   string      `json:"api_key"`
	RTSPURL  string      `json:"rtsp_url"`
	Status   string      `json:"status"`
	Config   AgentConfig `json:"config"`
}

// BridgeSummary is a provisioned bridge without its secret.
type BridgeSummary struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	CameraID   string    `json:"camera_id"`
	BackendURL string    `json:"backend_url"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ToSummary drops the API key and RTSP URL.
func (r *BridgeRecord) ToSummary() BridgeSummary {
	return BridgeSummary{
		ID:         r.ID,
		UserID:     r.UserID,
		CameraID:   r.CameraID,
		BackendURL: r.BackendURL,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

package constants

// HTTP paths shared by the router, logs and tests.
const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathMetrics = "/metrics"

	PathBridgeWS      = "/bridge/ws"
	PathUploadSegment = "/bridge/upload-segment"
	PathUploadFile    = "/bridge/upload-file"
	PathBridgeList    = "/bridge/list"
)

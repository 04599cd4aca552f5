package observerproto

import "agrosim.ai/internal/sim/tile"

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
	TypeLayer     = "LAYER"
)

// EncodingRLE is base64 of (level, run_len) uvarint pairs.
const EncodingRLE = "RLE_UVARINT_B64"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: stream a "group.property" layer after every day.
	Layer string  `json:"layer,omitempty"`
	Scale float64 `json:"scale,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	WorldID         string   `json:"world_id"`
	RunID           string   `json:"run_id"`
	Day             uint64   `json:"day"`
	Rows            int      `json:"rows"`
	Cols            int      `json:"cols"`
	Layers          []string `json:"layers"`
}

// Server -> Client. Sent after every simulated day.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Day             uint64 `json:"day"`
	Digest          string `json:"digest"`

	Path           string `json:"path"`
	Units          int    `json:"units"`
	Tiles          int    `json:"tiles"`
	Applied        int    `json:"applied"`
	Skipped        int    `json:"skipped"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Server -> Client. One quantized layer of the grid: value ≈ min + level/scale.
type LayerMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Day             uint64  `json:"day"`
	Layer           string  `json:"layer"`
	Rows            int     `json:"rows"`
	Cols            int     `json:"cols"`
	Min             float64 `json:"min"`
	Scale           float64 `json:"scale"`
	NoData          uint16  `json:"no_data"`
	Encoding        string  `json:"encoding"`
	Data            string  `json:"data"`
}

// HTTP response for GET /v1/observer/tile.
type TileResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	Day             uint64     `json:"day"`
	Tile            *tile.Tile `json:"tile"`
}

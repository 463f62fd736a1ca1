package api

// Response headers attached to supply withdrawals so external players can
// track queue depth without a second status round trip.
const (
	HeaderQueueCount      = "X-Queue-Count"
	HeaderQueueSize       = "X-Queue-Size"
	HeaderQueueVideoCount = "X-Queue-Video-Count"
	HeaderQueueImageCount = "X-Queue-Image-Count"
	HeaderQueueAudioCount = "X-Queue-Audio-Count"
)

// KindCounts breaks down sampled media by kind.
type KindCounts struct {
	Video int64 `json:"video"`
	Image int64 `json:"image"`
	Audio int64 `json:"audio"`
}

// SupplyStatus reports the state of the ready queue and dedup cache.
type SupplyStatus struct {
	ReadyCount    int        `json:"readyCount"`
	ReadyCapacity int        `json:"readyCapacity"`
	DedupCount    int        `json:"dedupCount"`
	Counts        KindCounts `json:"counts"`
}

// RootStatus describes one media root: its configured eligibility plus the
// daemon's latest health probe of the underlying filesystem.
type RootStatus struct {
	Path       string `json:"path"`
	Enabled    bool   `json:"enabled"`
	Available  bool   `json:"available"`
	FreeBytes  uint64 `json:"freeBytes,omitempty"`
	TotalBytes uint64 `json:"totalBytes,omitempty"`
}

// PlayerStatus mirrors the built-in player's state for API consumers.
type PlayerStatus struct {
	Running    bool   `json:"running"`
	State      string `json:"state"`
	Path       string `json:"path,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Speed      string `json:"speed"`
	PositionMS int64  `json:"positionMs"`
	StartedAt  string `json:"startedAt,omitempty"`
}

// DaemonStatus is the full status document returned by GET /api/status.
type DaemonStatus struct {
	Running           bool         `json:"running"`
	PID               int          `json:"pid"`
	StartedAt         string       `json:"startedAt,omitempty"`
	LockFilePath      string       `json:"lockFilePath,omitempty"`
	HistoryDBPath     string       `json:"historyDbPath,omitempty"`
	Supply            SupplyStatus `json:"supply"`
	Roots             []RootStatus `json:"roots"`
	Player            PlayerStatus `json:"player"`
	NetlinkMonitoring bool         `json:"netlinkMonitoring"`
	RootWatcher       bool         `json:"rootWatcher"`
}

// RootsResponse wraps the root list for GET /api/roots and PATCH replies.
type RootsResponse struct {
	Roots []RootStatus `json:"roots"`
}

// RootsPatch is the request body for PATCH /api/roots. All changes are
// validated before any of them apply.
type RootsPatch struct {
	Enable  []string `json:"enable,omitempty"`
	Disable []string `json:"disable,omitempty"`
	Add     []string `json:"add,omitempty"`
}

// NextItem is the body returned by POST /api/next when an item was ready.
type NextItem struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Root     string `json:"root"`
	EngineID string `json:"engineId"`
}

// Play is one playback history row.
type Play struct {
	ID         int64  `json:"id"`
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	EngineID   string `json:"engineId,omitempty"`
	SourceRoot string `json:"sourceRoot,omitempty"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HistoryResponse wraps recent plays for GET /api/history.
type HistoryResponse struct {
	Plays []Play `json:"plays"`
}

// SpeedRequest is the body for POST /api/player/speed. Speed is either an
// absolute rate such as "2x" or one of the relative words "faster" and
// "slower".
type SpeedRequest struct {
	Speed string `json:"speed"`
}

// CommandResponse acknowledges a player or supply command.
type CommandResponse struct {
	Status string `json:"status"`
	Speed  string `json:"speed,omitempty"`
}

// ErrorResponse is the JSON envelope for non-2xx replies.
type ErrorResponse struct {
	Error string `json:"error"`
}

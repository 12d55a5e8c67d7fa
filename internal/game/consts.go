package game

const (
	RoomMaxPlayers = 8
	FlushRateHz    = 10.0 // per-room edit script flushes
	OutboxLimit    = 256  // queued JSON events per player
	DefaultRoomID  = "default"
)

package lockstep

// Status is a copy of the engine counters for the status board.
type Status struct {
	Running         bool    `json:"running"`
	Terminated      bool    `json:"terminated"`
	Now             uint32  `json:"now"`
	Latency         int     `json:"latency"`
	LocalAdmiral    uint8   `json:"local_admiral"`
	Admirals        []int   `json:"admirals"`
	Missing         []uint8 `json:"missing"`
	Executed        uint64  `json:"executed"`
	QueueDepth      int     `json:"queue_depth"`
	QueueCap        int     `json:"queue_cap"`
	SentLogUsed     int     `json:"sent_log_used"`
	SentLogCap      int     `json:"sent_log_cap"`
	StalledFrames   int     `json:"stalled_frames"`
	StaleCommands   uint64  `json:"stale_commands"`
	CorruptCommands uint64  `json:"corrupt_commands"`
	LateHandshake   uint64  `json:"late_handshake"`
	Desynced        bool    `json:"desynced"`
	DesyncCountdown int     `json:"desync_countdown"`
	GameEndable     bool    `json:"game_endable"`
	ChatOpen        []uint8 `json:"chat_open"`
	ChatBacklog     int     `json:"chat_backlog"`
}

// Status returns the current counters. Call it from the goroutine that
// drives the engine.
func (e *Engine) Status() Status {
	return Status{
		Running:         e.running,
		Terminated:      e.terminated,
		Now:             uint32(e.now),
		Latency:         e.latency,
		LocalAdmiral:    e.local,
		Admirals:        e.activeList(),
		Missing:         e.Missing(),
		Executed:        e.executed,
		QueueDepth:      e.queue.Len(),
		QueueCap:        e.queue.Cap(),
		SentLogUsed:     e.sent.Len(),
		SentLogCap:      e.sent.Cap(),
		StalledFrames:   e.stalled,
		StaleCommands:   e.stale,
		CorruptCommands: e.corrupt,
		LateHandshake:   e.lateHandshake,
		Desynced:        e.desynced,
		DesyncCountdown: e.countdown,
		GameEndable:     e.endable,
		ChatOpen:        e.chat.open(),
		ChatBacklog:     len(e.chatOut),
	}
}

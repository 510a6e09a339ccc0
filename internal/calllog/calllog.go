// Package calllog writes one JSON file per completed call into the robot's
// logs/ directory, for offline review independent of the telemetry
// databases.
package calllog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lokutor-ai/voicebridge/internal/logging"
)

// TurnMetric records one turn's ASR timing, matching the original's
// asr_details array.
type TurnMetric struct {
	TurnNumber int     `json:"turn"`
	ASRLatency float64 `json:"asr_latency_ms"`
	Provider   string  `json:"provider"`
}

// Entry is the full record written for one completed call.
type Entry struct {
	UUID        string       `json:"uuid"`
	Caller      string       `json:"caller"`
	CallTime    string       `json:"call_time"`
	DurationSec float64      `json:"duration_sec"`
	Turns       int          `json:"turns"`
	BargeIns    int          `json:"barge_ins"`
	ASRDetails  []TurnMetric `json:"asr_details"`
	Transcript  []string     `json:"transcript"`
}

// Save writes entry to robotDir/logs/<timestamp>_<caller>_<uuid prefix>.json.
func Save(robotDir string, entry Entry, log logging.Logger) {
	if log == nil {
		log = logging.NoOp{}
	}
	logsDir := filepath.Join(robotDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		log.Error("calllog: mkdir logs dir failed", "error", err)
		return
	}

	entry.DurationSec = roundTo1Decimal(entry.DurationSec)

	body, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		log.Error("calllog: marshal entry failed", "error", err)
		return
	}

	name := fileName(entry.CallTime, entry.Caller, entry.UUID)
	path := filepath.Join(logsDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		log.Error("calllog: write file failed", "path", path, "error", err)
		return
	}
	log.Info("call log saved", "file", name)
}

// fileName builds <safe-time>_<caller>_<uuid prefix>.json, matching the
// original's filename scheme exactly (spaces in the timestamp become
// underscores, colons and dashes are stripped; first 8 chars of the uuid).
func fileName(callTime, caller, uuid string) string {
	safeTime := callTime
	safeTime = strings.ReplaceAll(safeTime, " ", "_")
	safeTime = strings.ReplaceAll(safeTime, ":", "")
	safeTime = strings.ReplaceAll(safeTime, "-", "")

	shortUUID := uuid
	if shortUUID == "" {
		shortUUID = "x"
	}
	if len(shortUUID) > 8 {
		shortUUID = shortUUID[:8]
	}

	return fmt.Sprintf("%s_%s_%s.json", safeTime, caller, shortUUID)
}

func roundTo1Decimal(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

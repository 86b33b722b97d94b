// Package bridge implements the Cross-Process Bridge (C8): atomic
// filesystem handoff of sensor snapshots, mower state, and camera frames
// between the mower core process and any out-of-process UI/web
// companion, so neither process touches the other's hardware handles.
//
// Grounded on original_source's shared_sensor_data.py (timestamped JSON
// blob with a staleness budget) and camera_frame_share.py (lock-file
// protected JPEG + metadata handoff), rebuilt on this core's
// write-tmp/fsync/rename primitive (internal/atomicfile) instead of the
// original's bare os.rename, matching the teacher's atomic-write style
// used for its escalation hint files.
package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/atomicfile"
	"github.com/acredsfan/mowercore/internal/observability"
	"github.com/acredsfan/mowercore/internal/sensors"
)

const (
	statusFrameFile  = "sensor_data.json"
	frameFile        = "current_frame.jpg"
	frameMetaFile    = "frame_metadata.json"
	frameLockFile    = "frame.lock"
	filePerm         = 0o600
)

// StatusFrame is the envelope written to sensor_data.json: a single
// timestamp plus the complete sensor/state payload, mirroring
// shared_sensor_data.py's {"timestamp": ..., "data": ...} shape.
type StatusFrame struct {
	Timestamp time.Time        `json:"timestamp"`
	MowerID   string           `json:"mower_id"`
	State     string           `json:"state"`
	Sensors   sensors.Snapshot `json:"data"`
}

// FrameMetadata describes the most recently written camera frame.
type FrameMetadata struct {
	FrameCount int       `json:"frame_count"`
	Timestamp  time.Time `json:"timestamp"`
	SizeBytes  int       `json:"size_bytes"`
}

// Bridge owns the shared directory and the in-process lock serializing
// writes against the metadata file (one writer per process, but the
// frame lock file additionally signals readers in other processes).
type Bridge struct {
	dir            string
	staleThreshold time.Duration
	metrics        *observability.Metrics
	log            *zap.Logger

	mu         sync.Mutex
	frameCount int
}

// New creates a Bridge rooted at dir, creating it if necessary.
func New(dir string, staleThreshold time.Duration, metrics *observability.Metrics, log *zap.Logger) (*Bridge, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bridge: create dir %q: %w", dir, err)
	}
	return &Bridge{dir: dir, staleThreshold: staleThreshold, metrics: metrics, log: log}, nil
}

// WriteStatus atomically publishes the current sensor snapshot and mower
// state to sensor_data.json.
func (b *Bridge) WriteStatus(mowerID, state string, snap sensors.Snapshot) error {
	frame := StatusFrame{
		Timestamp: time.Now(),
		MowerID:   mowerID,
		State:     state,
		Sensors:   snap,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("bridge: marshal status frame: %w", err)
	}
	path := filepath.Join(b.dir, statusFrameFile)
	if err := atomicfile.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("bridge: write status frame: %w", err)
	}
	if b.metrics != nil {
		b.metrics.BridgeWritesTotal.Inc()
	}
	return nil
}

// ReadStatus reads the latest status frame. It returns an error if the
// file is absent, corrupt, or older than staleThreshold.
func (b *Bridge) ReadStatus() (StatusFrame, error) {
	var frame StatusFrame
	path := filepath.Join(b.dir, statusFrameFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return frame, fmt.Errorf("bridge: read status frame: %w", err)
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("bridge: decode status frame: %w", err)
	}
	if time.Since(frame.Timestamp) > b.staleThreshold {
		return frame, fmt.Errorf("bridge: status frame is stale (age %s > %s)", time.Since(frame.Timestamp), b.staleThreshold)
	}
	return frame, nil
}

// WriteFrame publishes one JPEG camera frame plus metadata, guarded by a
// lock file so a concurrent reader in another process can detect an
// in-progress write and retry rather than reading a torn frame. Mirrors
// camera_frame_share.py's write_frame, but the JPEG and its metadata go
// through atomicfile's tmp-then-rename sequence rather than a bare
// truncating write, so even a crash mid-write never leaves a partial frame
// visible. The lock file itself is written directly with os.WriteFile.
func (b *Bridge) WriteFrame(jpeg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	lockPath := filepath.Join(b.dir, frameLockFile)
	if err := os.WriteFile(lockPath, []byte(fmt.Sprintf("%d", os.Getpid())), filePerm); err != nil {
		return fmt.Errorf("bridge: write frame lock: %w", err)
	}
	defer os.Remove(lockPath)

	framePath := filepath.Join(b.dir, frameFile)
	if err := atomicfile.WriteFile(framePath, jpeg, filePerm); err != nil {
		return fmt.Errorf("bridge: write camera frame: %w", err)
	}

	b.frameCount++
	meta := FrameMetadata{FrameCount: b.frameCount, Timestamp: time.Now(), SizeBytes: len(jpeg)}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("bridge: marshal frame metadata: %w", err)
	}
	metaPath := filepath.Join(b.dir, frameMetaFile)
	if err := atomicfile.WriteFile(metaPath, metaData, filePerm); err != nil {
		return fmt.Errorf("bridge: write frame metadata: %w", err)
	}

	if b.metrics != nil {
		b.metrics.BridgeWritesTotal.Inc()
	}
	return nil
}

// ReadFrame reads the latest camera frame, honoring the lock file and a
// 2-second staleness budget matching camera_frame_share.py's
// is_frame_available.
func (b *Bridge) ReadFrame() ([]byte, FrameMetadata, error) {
	var meta FrameMetadata

	lockPath := filepath.Join(b.dir, frameLockFile)
	if _, err := os.Stat(lockPath); err == nil {
		return nil, meta, fmt.Errorf("bridge: frame write in progress")
	}

	metaPath := filepath.Join(b.dir, frameMetaFile)
	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, meta, fmt.Errorf("bridge: read frame metadata: %w", err)
	}
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, meta, fmt.Errorf("bridge: decode frame metadata: %w", err)
	}
	if time.Since(meta.Timestamp) > 2*time.Second {
		return nil, meta, fmt.Errorf("bridge: camera frame is stale (age %s)", time.Since(meta.Timestamp))
	}

	framePath := filepath.Join(b.dir, frameFile)
	jpeg, err := os.ReadFile(framePath)
	if err != nil {
		return nil, meta, fmt.Errorf("bridge: read camera frame: %w", err)
	}
	return jpeg, meta, nil
}

// Cleanup removes the bridge's files, called on supervisor shutdown so a
// stale frame is never mistaken for a live one after restart.
func (b *Bridge) Cleanup() {
	for _, name := range []string{statusFrameFile, frameFile, frameMetaFile, frameLockFile} {
		path := filepath.Join(b.dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if b.log != nil {
				b.log.Warn("bridge: cleanup failed to remove file", zap.String("path", path), zap.Error(err))
			}
		}
	}
}

package download

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const maxProbeTimeout = 30 * time.Second

// AudioInfo is what the worker reads back from a finished artifact.
type AudioInfo struct {
	Codec    string
	Duration time.Duration
	Title    string
	Artist   string
}

// FFProbe shells out to ffprobe for audio metadata.
type FFProbe struct {
	binary string
}

func NewFFProbe(binary string) *FFProbe {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProbe{binary: bin}
}

func (p *FFProbe) Probe(ctx context.Context, filePath string) (AudioInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return AudioInfo{}, errors.New("file path is required")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	info, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil || (runErr != nil && info.Codec == "") {
		if runErr == nil {
			return AudioInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return AudioInfo{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
		}
		return AudioInfo{}, fmt.Errorf("ffprobe failed: %w", runErr)
	}
	return info, nil
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type probeFormat struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

func parseProbeOutput(data []byte) (AudioInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return AudioInfo{}, err
	}

	var info AudioInfo
	for _, stream := range payload.Streams {
		if stream.CodecType == "audio" {
			info.Codec = stream.CodecName
			break
		}
	}
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			info.Duration = time.Duration(d * float64(time.Second))
		}
	}
	info.Title = strings.TrimSpace(getTag(payload.Format.Tags, "title"))
	info.Artist = strings.TrimSpace(getTag(payload.Format.Tags, "artist"))
	return info, nil
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if value, ok := tags[key]; ok {
		return value
	}
	if value, ok := tags[strings.ToUpper(key)]; ok {
		return value
	}
	return ""
}

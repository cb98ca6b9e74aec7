package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// MicrophoneChecker decides whether capture can start: the recorder binary must
// be on PATH and, for ALSA/OSS inputs addressed by device node, the node must
// be readable.
type MicrophoneChecker struct {
	command     string
	inputDevice string
	lookPath    func(string) (string, error)
	open        func(string) (*os.File, error)
}

func NewMicrophoneChecker(command string, inputDevice string) *MicrophoneChecker {
	if command == "" {
		command = "ffmpeg"
	}
	return &MicrophoneChecker{
		command:     command,
		inputDevice: inputDevice,
		lookPath:    exec.LookPath,
		open:        os.Open,
	}
}

// MicrophoneGranted reports false when the microphone cannot be used. An
// error is returned only when the check itself could not run.
func (p *MicrophoneChecker) MicrophoneGranted(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := p.lookPath(p.command); err != nil {
		return false, nil
	}

	device := strings.TrimSpace(p.inputDevice)
	if !strings.HasPrefix(device, "/dev/") {
		return true, nil
	}
	f, err := p.open(device)
	if err != nil {
		if os.IsPermission(err) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checker input device %s: %w", device, err)
	}
	_ = f.Close()
	return true, nil
}

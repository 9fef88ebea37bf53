package audio

import (
	"context"
	"errors"
	"strings"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
)

// MediaConstraints describes which device tracks a session needs.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaStream is the camera/microphone stream acquired once at device
// setup. Exactly one consumer, the pipeline controller, may stop or
// restart its tracks; everything else observes the same reference
// read-only.
type MediaStream interface {
	// StopTracks stops all tracks, releasing the underlying devices.
	StopTracks()

	// RestartTracks reacquires stopped tracks.
	RestartTracks() error
}

// MediaSource acquires device streams.
type MediaSource interface {
	Acquire(ctx context.Context, c MediaConstraints) (MediaStream, error)
}

// Sentinel errors a MediaSource implementation returns for acquisition
// failures, mirroring the browser getUserMedia error names.
var (
	ErrMediaDenied   = errors.New("media: permission denied")
	ErrMediaNotFound = errors.New("media: no matching device")
	ErrMediaBusy     = errors.New("media: device already in use")
)

// ClassifyMediaError converts a device acquisition failure into the
// user-facing permission error taxonomy, with a distinct message per
// underlying cause.
func ClassifyMediaError(err error) *core.Error {
	switch {
	case errors.Is(err, ErrMediaDenied):
		return core.NewPermissionError(core.PermissionDenied)
	case errors.Is(err, ErrMediaNotFound):
		return core.NewPermissionError(core.PermissionNotFound)
	case errors.Is(err, ErrMediaBusy):
		return core.NewPermissionError(core.PermissionBusy)
	}

	// Fall back to name matching for errors forwarded verbatim from a
	// browser client.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "notallowed"), strings.Contains(msg, "denied"):
		return core.NewPermissionError(core.PermissionDenied)
	case strings.Contains(msg, "notfound"), strings.Contains(msg, "no device"):
		return core.NewPermissionError(core.PermissionNotFound)
	case strings.Contains(msg, "notreadable"), strings.Contains(msg, "in use"):
		return core.NewPermissionError(core.PermissionBusy)
	}
	return core.NewPermissionError("")
}

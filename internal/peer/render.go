package peer

import (
	"errors"
	"io"
	"log/slog"

	pion "github.com/pion/webrtc/v4"
)

// Renderer is the surface remote media is attached to. Attach may be called
// once per remote track; Detach tears down everything for that remote.
type Renderer interface {
	Attach(remoteID string, track *pion.TrackRemote)
	Detach(remoteID string)
}

// DiscardRenderer reads and drops remote RTP so headless peers keep the
// transport flowing.
type DiscardRenderer struct{}

func (DiscardRenderer) Attach(remoteID string, track *pion.TrackRemote) {
	if track == nil {
		return
	}
	slog.Debug("remote track attached", "remote_id", remoteID, "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Debug("remote track ended", "remote_id", remoteID, "err", err)
				}
				return
			}
		}
	}()
}

func (DiscardRenderer) Detach(remoteID string) {
	slog.Debug("remote tile removed", "remote_id", remoteID)
}

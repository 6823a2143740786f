package parser

import (
	"bufio"
	"fmt"
	"io"

	"github.com/grafov/m3u8"
)

// maxManifestBytes bounds how much of a response is read for inspection.
const maxManifestBytes = 256 * 1024

// ManifestInfo summarizes an HLS playlist.
type ManifestInfo struct {
	Master   bool // master playlist with variants
	Variants int
	Segments int
}

// Playable reports whether the playlist references anything to play.
func (m ManifestInfo) Playable() bool {
	if m.Master {
		return m.Variants > 0
	}
	return m.Segments > 0
}

// InspectManifest decodes an HLS playlist from r and reports its shape.
// Input is read up to maxManifestBytes and decoded leniently, since a
// truncated media playlist is still evidence of a live manifest.
func InspectManifest(r io.Reader) (ManifestInfo, error) {
	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(io.LimitReader(r, maxManifestBytes)), false)
	if err != nil {
		return ManifestInfo{}, fmt.Errorf("failed to decode playlist: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return ManifestInfo{}, fmt.Errorf("unexpected master playlist type %T", playlist)
		}
		return ManifestInfo{Master: true, Variants: len(master.Variants)}, nil
	case m3u8.MEDIA:
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok {
			return ManifestInfo{}, fmt.Errorf("unexpected media playlist type %T", playlist)
		}
		return ManifestInfo{Segments: int(media.Count())}, nil
	}

	return ManifestInfo{}, fmt.Errorf("unknown playlist type")
}

package card

import (
	"encoding/binary"
	"fmt"

	"github.com/bnema/modeset/internal/kms"
)

// Wire layout of struct drm_event and struct drm_event_vblank, shared
// by vblank and flip-complete events.
const (
	eventVBlank       = 0x01
	eventFlipComplete = 0x02

	eventHeaderLen = 8
	vblankBodyLen  = 24
)

// decodeEvents parses a raw read from the DRM node into typed events.
// Unknown event kinds are skipped over by their self-declared length.
func decodeEvents(buf []byte) ([]kms.Event, error) {
	var events []kms.Event
	for len(buf) > 0 {
		if len(buf) < eventHeaderLen {
			return events, fmt.Errorf("truncated drm event header (%d bytes)", len(buf))
		}
		typ := binary.NativeEndian.Uint32(buf[0:4])
		length := binary.NativeEndian.Uint32(buf[4:8])
		if length < eventHeaderLen || int(length) > len(buf) {
			return events, fmt.Errorf("drm event with bad length %d", length)
		}
		body := buf[eventHeaderLen:length]
		switch typ {
		case eventVBlank, eventFlipComplete:
			if len(body) < vblankBodyLen {
				return events, fmt.Errorf("truncated drm vblank event body (%d bytes)", len(body))
			}
			userData := binary.NativeEndian.Uint64(body[0:8])
			sec := binary.NativeEndian.Uint32(body[8:12])
			usec := binary.NativeEndian.Uint32(body[12:16])
			seq := binary.NativeEndian.Uint32(body[16:20])
			crtc := kms.CrtcID(binary.NativeEndian.Uint32(body[20:24]))
			// Older kernels leave crtc_id zero; PageFlip stashes the
			// crtc in user_data for exactly that case.
			if crtc == 0 {
				crtc = kms.CrtcID(userData)
			}
			if typ == eventFlipComplete {
				events = append(events, kms.PageFlipEvent{Crtc: crtc, Sequence: seq, Sec: sec, Usec: usec})
			} else {
				events = append(events, kms.VBlankEvent{Crtc: crtc, Sequence: seq, Sec: sec, Usec: usec})
			}
		}
		buf = buf[length:]
	}
	return events, nil
}

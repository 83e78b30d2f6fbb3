package utils

import (
	"github.com/pion/webrtc/v4"
)

// EncodeSessionDescription encodes a session description to base64 JSON.
func EncodeSessionDescription(sd webrtc.SessionDescription) (string, error) {
	return Encode(sd)
}

// DecodeSessionDescription decodes a base64 encoded session description.
func DecodeSessionDescription(encoded string) (webrtc.SessionDescription, error) {
	return Decode[webrtc.SessionDescription](encoded)
}

package telephony

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// StreamURL is the media stream endpoint Twilio connects to for a host.
func StreamURL(publicHost, path string) (string, error) {
	host := strings.TrimSpace(publicHost)
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	host = strings.TrimRight(host, "/")
	if host == "" {
		return "", errors.New("public host is required")
	}
	return "wss://" + host + "/" + strings.TrimLeft(path, "/"), nil
}

// ConnectStreamTwiML answers an incoming call by bridging its audio to the
// media stream websocket at streamURL.
func ConnectStreamTwiML(streamURL string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("stream url is required")
	}
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{Url: streamURL},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}

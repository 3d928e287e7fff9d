package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies media stream payload variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventStop      EventType = "stop"
	EventDTMF      EventType = "dtmf"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event")
	ErrInvalidMessage   = errors.New("invalid message")
)

type Envelope struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	StreamSid      string    `json:"streamSid,omitempty"`
}

type Connected struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartMetadata struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type Start struct {
	Event          EventType     `json:"event"`
	SequenceNumber string        `json:"sequenceNumber"`
	StreamSid      string        `json:"streamSid"`
	Start          StartMetadata `json:"start"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Media struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type Mark struct {
	Event          EventType   `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid"`
	Mark           MarkPayload `json:"mark"`
}

type StopMetadata struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type Stop struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber"`
	StreamSid      string       `json:"streamSid"`
	Stop           StopMetadata `json:"stop"`
}

type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

type DTMF struct {
	Event          EventType   `json:"event"`
	SequenceNumber string      `json:"sequenceNumber"`
	StreamSid      string      `json:"streamSid"`
	DTMF           DTMFPayload `json:"dtmf"`
}

// NewOutboundMedia builds a playback audio message. Payload is base64 mu-law
// 8kHz mono with no file header.
func NewOutboundMedia(streamSid, payload string) Media {
	return Media{Event: EventMedia, StreamSid: streamSid, Media: MediaPayload{Payload: payload}}
}

func NewOutboundMark(streamSid, name string) Mark {
	return Mark{Event: EventMark, StreamSid: streamSid, Mark: MarkPayload{Name: name}}
}

// ParseMessage decodes one inbound media stream frame into Connected, Start,
// Media, Mark, Stop or DTMF.
func ParseMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.StreamSid == "" {
			msg.StreamSid = msg.Start.StreamSid
		}
		if msg.StreamSid == "" || msg.Start.CallSid == "" {
			return nil, fmt.Errorf("%w: start without streamSid or callSid", ErrInvalidMessage)
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media without payload", ErrInvalidMessage)
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Mark.Name == "" {
			return nil, fmt.Errorf("%w: mark without name", ErrInvalidMessage)
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, env.Event)
	}
}

// MessageEvent reports the event name of an inbound or outbound message
// value, for metrics labels.
func MessageEvent(msg any) string {
	switch msg.(type) {
	case Connected:
		return string(EventConnected)
	case Start:
		return string(EventStart)
	case Media:
		return string(EventMedia)
	case Mark:
		return string(EventMark)
	case Stop:
		return string(EventStop)
	case DTMF:
		return string(EventDTMF)
	case nil:
		return "nil"
	default:
		return "unknown"
	}
}

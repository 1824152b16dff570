package wire

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownMessage is returned when a frame decodes as a map but carries no
// recognizable discriminator.
var ErrUnknownMessage = errors.New("wire: unknown message type")

// envelope is the discriminator sniff: every control message carries
// message_type, trade signals carry action instead.
type envelope struct {
	MessageType string `msgpack:"message_type"`
	Action      string `msgpack:"action"`
}

// Decode parses a MessagePack frame into one of the typed wire messages.
// The concrete type of the returned value tells the caller what arrived.
func Decode(data []byte) (interface{}, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}

	switch env.MessageType {
	case KindRegister:
		return decodeAs[Register](data)
	case KindUnregister:
		return decodeAs[Unregister](data)
	case KindHeartbeat:
		return decodeAs[Heartbeat](data)
	case KindRequestConfig:
		return decodeAs[RequestConfig](data)
	case KindPositionSnapshot:
		return decodeAs[PositionSnapshot](data)
	case KindSyncRequest:
		return decodeAs[SyncRequest](data)
	case KindSlaveConfig:
		return decodeAs[SlaveConfig](data)
	case KindMasterConfig:
		return decodeAs[MasterConfig](data)
	case "":
		// No message_type: trade signals are discriminated by action.
		switch TradeAction(env.Action) {
		case ActionOpen, ActionModify, ActionClose:
			return decodeAs[TradeSignal](data)
		}
		return nil, fmt.Errorf("%w (action=%q)", ErrUnknownMessage, env.Action)
	}
	return nil, fmt.Errorf("%w (message_type=%q)", ErrUnknownMessage, env.MessageType)
}

func decodeAs[T any](data []byte) (interface{}, error) {
	var msg T
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("wire: decode %T: %w", msg, err)
	}
	return &msg, nil
}

// Encode serializes a wire message as a MessagePack map frame.
func Encode(msg interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %T: %w", msg, err)
	}
	return data, nil
}

// FailureCounter tracks consecutive decode failures on one connection.
// A single bad frame is tolerated; teardown happens only when the limit
// of consecutive failures is reached.
type FailureCounter struct {
	limit int
	count int
}

// DefaultDecodeFailureLimit is the consecutive-failure count after which a
// connection is considered poisoned.
const DefaultDecodeFailureLimit = 5

// NewFailureCounter returns a counter with the given limit; non-positive
// limits fall back to the default.
func NewFailureCounter(limit int) *FailureCounter {
	if limit <= 0 {
		limit = DefaultDecodeFailureLimit
	}
	return &FailureCounter{limit: limit}
}

// Fail records one failure and reports whether the limit is reached.
func (f *FailureCounter) Fail() bool {
	f.count++
	return f.count >= f.limit
}

// Reset clears the streak after a successful decode.
func (f *FailureCounter) Reset() { f.count = 0 }

// Count returns the current consecutive failure streak.
func (f *FailureCounter) Count() int { return f.count }

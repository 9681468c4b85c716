// Package interceptor defines the unit every captured message passes through
// and the pieces shared by the bridge interceptors.
package interceptor

import (
	"errors"
	"fmt"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/message"
)

// Interceptor inspects and may replace the payload of each message.
// Intercept is called concurrently for messages of different connections.
type Interceptor interface {
	Name() string
	Init() error
	Intercept(origin message.Origin, msg *message.Message) error
	Destroy()
}

// DefaultConnectionID is used when connections are not multiplexed or the
// message carries no connection id.
const DefaultConnectionID = "default"

var ErrUnknownStrategy = errors.New("unknown strategy")

// ConnectionID picks the bridge connection a message belongs to.
func ConnectionID(msg *message.Message, multiple bool) string {
	if !multiple {
		return DefaultConnectionID
	}
	if id, ok := msg.Metadata.Text(message.KeyConnectionID); ok && id != "" {
		return id
	}
	return DefaultConnectionID
}

// LoadConfig merges user settings over defaults and decodes the result
// into out.
func LoadConfig(defaults, user map[string]any, out any) error {
	if err := config.Decode(config.Merge(defaults, user), out); err != nil {
		return fmt.Errorf("invalid interceptor config: %w", err)
	}
	return nil
}

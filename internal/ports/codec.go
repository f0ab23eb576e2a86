package ports

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/tonkeeper/wsbridge/internal/models"
)

func EncodeEvent(event models.Event) ([]byte, error) {
	data, err := sonic.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

func DecodeEvent(data []byte) (models.Event, error) {
	var event models.Event
	if err := sonic.Unmarshal(data, &event); err != nil {
		return models.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}

func EncodeCommand(cmd models.Command) ([]byte, error) {
	data, err := sonic.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	return data, nil
}

// DecodeCommand parses a command. Unknown types decode fine and are left to the bridge to ignore.
func DecodeCommand(data []byte) (models.Command, error) {
	var cmd models.Command
	if err := sonic.Unmarshal(data, &cmd); err != nil {
		return models.Command{}, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if cmd.Type == "" {
		return models.Command{}, errors.New("command without type")
	}
	return cmd, nil
}

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chenyang-zz/quickcapture/internal/app"
	"github.com/chenyang-zz/quickcapture/pkg/events"
)

// 服务端发给界面的消息类型
const (
	TypeSnapshot   = "snapshot"
	TypeStatus     = "status"
	TypeWindow     = "window"
	TypeShortcut   = "shortcut"
	TypePermission = "permission"
	TypeError      = "error"
)

// Action 界面发给服务端的动作
type Action string

const (
	ActionCapture      Action = "capture"
	ActionToggleWindow Action = "toggle_window"
)

// ErrUnknownAction 不支持的动作
var ErrUnknownAction = errors.New("unknown action")

// Message 服务端推送的消息
type Message struct {
	Type     string                 `json:"type"`
	Snapshot *app.Snapshot          `json:"snapshot,omitempty"`
	Status   *events.StatusEvent    `json:"status,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

type actionRequest struct {
	Action Action `json:"action"`
}

// ParseAction 解析界面发来的动作，如 {"action":"capture"}
func ParseAction(raw []byte) (Action, error) {
	var req actionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", fmt.Errorf("invalid message: %w", err)
	}
	switch req.Action {
	case ActionCapture, ActionToggleWindow:
		return req.Action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

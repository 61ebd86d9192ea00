// Package protocol defines the JSON messages exchanged with observers over
// the streaming channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/setevik/logrelay/internal/store"
)

// ErrMalformed is returned by Decode for frames that are not a JSON object
// with a string "type" field.
var ErrMalformed = errors.New("malformed message")

// MsgType identifies an outbound message.
type MsgType string

const (
	TypeHistoricalLogs       MsgType = "historical-logs"
	TypeNewLog               MsgType = "new-log"
	TypeLogsCleared          MsgType = "logs-cleared"
	TypeLogsResponse         MsgType = "logs-response"
	TypeFilteredLogsResponse MsgType = "filtered-logs-response"
	TypeStatsResponse        MsgType = "stats-response"
	TypeExportResponse       MsgType = "export-response"
	TypeCommandExecuted      MsgType = "command-executed"
	TypeCommandError         MsgType = "command-error"
	TypeError                MsgType = "error"
)

// Inbound command type names.
const (
	CmdGetLogs         = "get-logs"
	CmdGetFilteredLogs = "get-filtered-logs"
	CmdGetStats        = "get-stats"
	CmdClearLogs       = "clear-logs"
	CmdExportLogs      = "export-logs"
	CmdExecuteCommand  = "execute-command"
)

// Message is the envelope for everything the server sends.
type Message struct {
	Type MsgType `json:"type"`
	Data any     `json:"data"`
}

// CommandResult is the payload of a command-executed message.
type CommandResult struct {
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp"`
}

// Encode marshals msg to a single JSON frame.
func Encode(msg Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	return b, nil
}

// Command is an inbound request. The set of implementations is closed.
type Command interface {
	command()
}

type GetLogs struct{}

type GetFilteredLogs struct {
	Filter store.Filter
}

type GetStats struct{}

type ClearLogs struct{}

type ExportLogs struct {
	Format string
}

type ExecuteCommand struct {
	Command string
}

// Unknown carries the type name of a well-formed but unrecognised command.
type Unknown struct {
	Type string
}

func (GetLogs) command()         {}
func (GetFilteredLogs) command() {}
func (GetStats) command()        {}
func (ClearLogs) command()       {}
func (ExportLogs) command()      {}
func (ExecuteCommand) command()  {}
func (Unknown) command()         {}

type inbound struct {
	Type    *string         `json:"type"`
	Filter  json.RawMessage `json:"filter"`
	Format  string          `json:"format"`
	Command string          `json:"command"`
}

// Decode parses one inbound frame.
func Decode(data []byte) (Command, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch *in.Type {
	case CmdGetLogs:
		return GetLogs{}, nil
	case CmdGetFilteredLogs:
		var f store.Filter
		if len(in.Filter) > 0 && string(in.Filter) != "null" {
			if err := json.Unmarshal(in.Filter, &f); err != nil {
				return nil, fmt.Errorf("%w: filter: %v", ErrMalformed, err)
			}
		}
		return GetFilteredLogs{Filter: f}, nil
	case CmdGetStats:
		return GetStats{}, nil
	case CmdClearLogs:
		return ClearLogs{}, nil
	case CmdExportLogs:
		return ExportLogs{Format: in.Format}, nil
	case CmdExecuteCommand:
		return ExecuteCommand{Command: in.Command}, nil
	default:
		return Unknown{Type: *in.Type}, nil
	}
}

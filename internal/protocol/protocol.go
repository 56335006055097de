package protocol

import (
	"encoding/json"
	"fmt"
)

// Names a request or response.
type Command string

const (
	CmdBuild    Command = "build"    // Realize outputs of a manifest.
	CmdList     Command = "list"     // List the outputs of a manifest.
	CmdStatus   Command = "status"   // Report daemon status.
	CmdShutdown Command = "shutdown" // Stop the daemon.

	CmdOK    Command = "ok"    // Successful response.
	CmdError Command = "error" // Failed response, with an [ErrorResult].
)

// Delimits messages on the wire.
const Delimiter = '\n'

// Wraps every message.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Requests a build.
type BuildRequest struct {
	Manifest string   `json:"manifest"`          // Absolute manifest path.
	Outputs  []string `json:"outputs,omitempty"` // Output names; empty selects every binary.
	All      bool     `json:"all,omitempty"`     // Select every binary and image.
	Jobs     int      `json:"jobs,omitempty"`    // Concurrent jobs.
	Load     bool     `json:"load,omitempty"`    // Import images into containerd.
}

// Outcome of one output.
type OutputResult struct {
	Output   string `json:"output"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Path     string `json:"path,omitempty"`
	Image    string `json:"image,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Answers a build request.
type BuildResult struct {
	Results []OutputResult `json:"results"`
	Failed  int            `json:"failed"`
}

// Requests the outputs of a manifest.
type ListRequest struct {
	Manifest string `json:"manifest"` // Absolute manifest path.
}

// One output of a manifest.
type Output struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Job    string `json:"job"`
	Target string `json:"target"`
}

// Answers a list request.
type ListResult struct {
	Outputs []Output `json:"outputs"`
}

// Answers a status request.
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
}

// Carries a failure.
type ErrorResult struct {
	Message string `json:"message"`
}

// Encodes a command and its payload as one envelope, without the delimiter.
//
// A nil payload produces an envelope without one.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// Decodes an envelope, returning it with its raw payload.
func Decode(line []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	return &env, env.Payload, nil
}

// Decodes a payload into a value of type T.
//
// An empty payload yields the zero value.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &v, nil
}

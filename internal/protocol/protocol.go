// Package protocol encodes and parses the text frames exchanged with the
// relay. Frames are ASCII, space-delimited, one message per frame:
//
//	client -> relay   job <key> <payload>
//	relay  -> client  <key> <true|false>
//	worker -> relay   register
//	relay  -> worker  request-build <key> <payload>
//	worker -> relay   complete <true|false> <key>
//
// Payloads are the last field and may themselves contain spaces.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame verbs.
const (
	VerbJob          = "job"
	VerbRegister     = "register"
	VerbRequestBuild = "request-build"
	VerbComplete     = "complete"
)

// ProtocolError reports a malformed inbound frame.
type ProtocolError struct {
	Frame  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame %q: %s", truncate(e.Frame, 80), e.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Completion is the outcome of one remote build.
type Completion struct {
	Key     string
	Success bool
}

// Job is one build request: a derivation key and its verbatim payload.
type Job struct {
	Key     string
	Payload []byte
}

// EncodeJob builds the client's job submission frame.
func EncodeJob(key string, payload []byte) string {
	return VerbJob + " " + key + " " + utf8(payload)
}

// ParseJob parses a job submission frame.
func ParseJob(frame string) (Job, error) {
	return parseKeyed(frame, VerbJob)
}

// EncodeCompletion builds the relay's completion notification for a client.
func EncodeCompletion(key string, success bool) string {
	return key + " " + strconv.FormatBool(success)
}

// ParseCompletion parses a "<key> <bool>" completion frame.
func ParseCompletion(frame string) (Completion, error) {
	key, flag, ok := strings.Cut(frame, " ")
	if !ok || key == "" {
		return Completion{}, &ProtocolError{Frame: frame, Reason: "expected \"<key> <bool>\""}
	}
	success, err := parseFlag(flag)
	if err != nil {
		return Completion{}, &ProtocolError{Frame: frame, Reason: err.Error()}
	}
	return Completion{Key: key, Success: success}, nil
}

// EncodeRequestBuild builds the relay's job dispatch frame for a worker.
func EncodeRequestBuild(key string, payload []byte) string {
	return VerbRequestBuild + " " + key + " " + utf8(payload)
}

// ParseRequestBuild parses a job dispatch frame.
func ParseRequestBuild(frame string) (Job, error) {
	return parseKeyed(frame, VerbRequestBuild)
}

// EncodeComplete builds the worker's outcome report.
func EncodeComplete(success bool, key string) string {
	return VerbComplete + " " + strconv.FormatBool(success) + " " + key
}

// ParseComplete parses a worker outcome report.
func ParseComplete(frame string) (Completion, error) {
	rest, ok := strings.CutPrefix(frame, VerbComplete+" ")
	if !ok {
		return Completion{}, &ProtocolError{Frame: frame, Reason: "expected complete frame"}
	}
	flag, key, ok := strings.Cut(rest, " ")
	if !ok || key == "" || strings.Contains(key, " ") {
		return Completion{}, &ProtocolError{Frame: frame, Reason: "expected \"complete <bool> <key>\""}
	}
	success, err := parseFlag(flag)
	if err != nil {
		return Completion{}, &ProtocolError{Frame: frame, Reason: err.Error()}
	}
	return Completion{Key: key, Success: success}, nil
}

// Verb returns the first field of a frame.
func Verb(frame string) string {
	verb, _, _ := strings.Cut(frame, " ")
	return verb
}

func parseKeyed(frame, verb string) (Job, error) {
	rest, ok := strings.CutPrefix(frame, verb+" ")
	if !ok {
		return Job{}, &ProtocolError{Frame: frame, Reason: "expected " + verb + " frame"}
	}
	key, payload, ok := strings.Cut(rest, " ")
	if !ok || key == "" {
		return Job{}, &ProtocolError{Frame: frame, Reason: "missing key or payload"}
	}
	return Job{Key: key, Payload: []byte(payload)}, nil
}

// parseFlag accepts only the literals "true" and "false".
func parseFlag(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid success flag %q", s)
	}
}

func utf8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

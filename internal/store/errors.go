package store

import "fmt"

// LocalBuildError reports a failed store operation (add or realise) along
// with the tool's captured diagnostic output.
type LocalBuildError struct {
	Op         string
	Key        string
	Diagnostic string
	Err        error
}

func (e *LocalBuildError) Error() string {
	msg := fmt.Sprintf("local %s of %s failed", e.Op, e.Key)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *LocalBuildError) Unwrap() error {
	return e.Err
}

// TransferError reports a failed push to or pull from the remote cache.
type TransferError struct {
	Direction  string
	Key        string
	Diagnostic string
	Err        error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s of %s failed", e.Direction, e.Key)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

package util

import (
	"errors"
	"fmt"
	"strings"
)

var ErrHandshakeTimeout = errors.New("No reply to the connect handshake. Make sure the bridge server is running and listening on the configured port.")
var ErrTimedOut = errors.New("Request timed out waiting for the bridge server")
var ErrStaleHandle = errors.New("Remote object has already been released")
var ErrChannelClosed = errors.New("Bridge channel is closed")
var ErrNoSuchField = errors.New("No such field on remote object")
var ErrNoSuchMethod = errors.New("No such method on remote object")
var ErrNoConstructors = errors.New("Server reported no constructors for class")

//	Server-signaled exception, message carried verbatim
type RemoteError struct {
	Message string
}

func (err *RemoteError) Error() string {
	return "RemoteException: " + err.Message
}

//	Structured-object response whose class is not the generic object wrapper
type UnknownReturnClassError struct {
	Class string
}

func (err *UnknownReturnClassError) Error() string {
	return fmt.Sprintf("UnknownReturnClass: cannot decode returned object of class %q", err.Class)
}

type NoMatchingOverloadError struct {
	Name       string
	Candidates []string
	ArgTypes   []string
}

func (err *NoMatchingOverloadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "NoMatchingOverload: no signature of %s accepts (%s)", err.Name, strings.Join(err.ArgTypes, ", "))
	if len(err.Candidates) == 0 {
		b.WriteString("\n\tno candidates")
	}
	for _, candidate := range err.Candidates {
		b.WriteString("\n\tcandidate: ")
		b.WriteString(candidate)
	}
	return b.String()
}

type MalformedArrayError struct {
	Tag   string
	Bytes int
	Width int
	Count int
}

func (err *MalformedArrayError) Error() string {
	if err.Count >= 0 {
		return fmt.Sprintf("MalformedArray: %s carries %d bytes, want %d elements of width %d", err.Tag, err.Bytes, err.Count, err.Width)
	}
	return fmt.Sprintf("MalformedArray: %s carries %d bytes, not a multiple of width %d", err.Tag, err.Bytes, err.Width)
}

//	Unrecoverable wire error, the message could not be framed or decoded
type ProtoError struct {
	error
}

func NewProtoError(err error) *ProtoError {
	return &ProtoError{err}
}

func (err *ProtoError) Error() string {
	return "ProtoError: " + err.error.Error()
}

func (err *ProtoError) Cause() error {
	return err.error
}

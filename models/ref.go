package models

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const localPrefix = "local-"

// ErrEmptyRef is returned by ParseRef for a blank identifier.
var ErrEmptyRef = errors.New("empty issue id")

// IssueRef identifies an issue either by the id minted on this process
// before the backend has confirmed it, or by the backend-assigned id.
// Callers switch on the concrete type.
type IssueRef interface {
	String() string
	issueRef()
}

// LocalID names a record that exists only in the local cache.
type LocalID string

// PersistedID names a record the backend has accepted.
type PersistedID string

func (id LocalID) String() string     { return string(id) }
func (id PersistedID) String() string { return string(id) }

func (LocalID) issueRef()     {}
func (PersistedID) issueRef() {}

// NewLocalID mints a fresh local identifier.
func NewLocalID() LocalID {
	return LocalID(localPrefix + uuid.NewString())
}

// ParseRef converts an identifier received over the wire into a ref.
func ParseRef(s string) (IssueRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyRef
	}
	if strings.HasPrefix(s, localPrefix) {
		return LocalID(s), nil
	}
	return PersistedID(s), nil
}

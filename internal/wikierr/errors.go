// Package wikierr defines the error taxonomy shared by the wikifs
// client and server. Every error that crosses a component boundary
// (mirror cache, remote client, lock manager, revision recorder, HTTP
// API) is built with E so that the filesystem adapter can recover a
// Kind and map it to the right errno.
package wikierr

import (
	"bytes"
	"fmt"
	"syscall"
)

// Kind classifies an error so that callers can act on it without
// string matching. The zero value, Other, means "unclassified."
type Kind uint8

// The kinds of errors this system distinguishes.
const (
	Other Kind = iota
	NotFound
	Unauthorized
	PermissionDenied
	Exist
	LockedByOther
	IO
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Unauthorized:
		return "unauthorized"
	case PermissionDenied:
		return "permission denied"
	case Exist:
		return "already exists"
	case LockedByOther:
		return "locked by another user"
	case IO:
		return "I/O error"
	}
	return "error"
}

// Errno returns the POSIX errno this kind maps to at the filesystem
// adapter boundary.
func (k Kind) Errno() syscall.Errno {
	switch k {
	case NotFound:
		return syscall.ENOENT
	case Unauthorized, PermissionDenied, LockedByOther:
		return syscall.EACCES
	case Exist:
		return syscall.EEXIST
	case IO:
		return syscall.EIO
	}
	return syscall.EIO
}

// Error is the error type produced by E. It carries enough context
// (operation, path, user, kind, wrapped error) to both log usefully
// and recover a Kind at the adapter boundary.
type Error struct {
	Op   string
	Path string
	User string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	pad := func(s string) {
		if b.Len() != 0 {
			b.WriteString(s)
		}
	}
	if e.Path != "" {
		b.WriteString(e.Path)
	}
	if e.User != "" {
		pad(", ")
		b.WriteString("user ")
		b.WriteString(e.User)
	}
	if e.Op != "" {
		pad(": ")
		b.WriteString(e.Op)
	}
	if e.Kind != Other {
		pad(": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		pad(": ")
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error from its arguments. The type of each argument
// determines which field it fills:
//
//	string      the operation name; a later string is appended to
//	            it after ": "
//	Kind        the error classification
//	error       the wrapped error
//
// Path and User are set with the Path/User wrappers below since both
// are plain strings and would otherwise be ambiguous with Op.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Op = e.Op + ": " + a
			}
		case Kind:
			e.Kind = a
		case pathArg:
			e.Path = string(a)
		case userArg:
			e.User = string(a)
		case *Error:
			e.Err = a
			if e.Kind == Other {
				e.Kind = a.Kind
			}
		case error:
			e.Err = a
		default:
			e.Err = fmt.Errorf("wikierr.E: bad argument of type %T: %v", arg, arg)
		}
	}
	return e
}

type pathArg string
type userArg string

// Path wraps a path so E can distinguish it from an operation name.
func Path(p string) interface{} { return pathArg(p) }

// User wraps a username so E can distinguish it from an operation name.
func User(u string) interface{} { return userArg(u) }

// KindOf recovers the Kind carried by err, walking wrapped errors.
// It returns Other if err is nil or carries no Kind.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind != Other {
				return e.Kind
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Other
}

// Errno maps err to the POSIX errno a FUSE op should return for it.
// Unclassified errors map to EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return KindOf(err).Errno()
}

// Is reports whether err (or anything it wraps) carries the given
// kind. Unlike KindOf it does not stop at the first *Error found, so
// it can see through a chain where an outer Error has Kind Other but
// wraps an inner Error that has the kind being searched for.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == k {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Str mirrors errors.New so callers need only import this package.
func Str(text string) error { return strErr(text) }

type strErr string

func (e strErr) Error() string { return string(e) }

// Package errcode defines the single error enumeration shared by every
// layer of the engine, matching the codes a GDB/LLDB remote stub reports
// plus a handful used only internally.
package errcode

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Code is a ds2go error. The zero value is Success.
type Code int

const (
	Success Code = iota
	NoPermission
	NotFound
	ProcessNotFound
	Interrupted
	InvalidHandle
	NoMemory
	AccessDenied
	InvalidAddress
	Busy
	AlreadyExist
	NoDevice
	NotDirectory
	IsDirectory
	InvalidArgument
	TooManySystemFiles
	TooManyFiles
	FileTooBig
	NoSpace
	InvalidSeek
	NotWriteable
	NameTooLong
	Unknown
	Unsupported
)

var names = map[Code]string{
	Success:             "success",
	NoPermission:        "operation not permitted",
	NotFound:            "not found",
	ProcessNotFound:     "no such process",
	Interrupted:         "interrupted",
	InvalidHandle:       "invalid handle",
	NoMemory:            "cannot allocate memory",
	AccessDenied:        "permission denied",
	InvalidAddress:      "invalid address",
	Busy:                "device or resource busy",
	AlreadyExist:        "already exists",
	NoDevice:            "no such device",
	NotDirectory:        "not a directory",
	IsDirectory:         "is a directory",
	InvalidArgument:     "invalid argument",
	TooManySystemFiles:  "too many open files in system",
	TooManyFiles:        "too many open files",
	FileTooBig:          "file too large",
	NoSpace:             "no space left on device",
	InvalidSeek:         "illegal seek",
	NotWriteable:        "read-only file system",
	NameTooLong:         "file name too long",
	Unknown:             "unknown error",
	Unsupported:         "operation not supported",
}

// Error implements the error interface so a Code can be returned and
// compared directly with errors.Is.
func (c Code) Error() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown error code"
}

// New wraps c as an error, or returns nil for Success.
func New(c Code) error {
	if c == Success {
		return nil
	}
	return c
}

// FromErrno translates a Linux errno (or an error wrapping one, as
// golang.org/x/sys/unix syscalls return) into a Code. Errors that
// neither are nor wrap an errno translate to Unknown.
func FromErrno(err error) Code {
	if err == nil {
		return Success
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return Unknown
	}
	switch errno {
	case 0:
		return Success
	case unix.EPERM:
		return NoPermission
	case unix.ENOENT:
		return NotFound
	case unix.ESRCH:
		return ProcessNotFound
	case unix.EINTR:
		return Interrupted
	case unix.EBADF:
		return InvalidHandle
	case unix.ENOMEM:
		return NoMemory
	case unix.EACCES:
		return AccessDenied
	case unix.EFAULT:
		return InvalidAddress
	case unix.EBUSY, unix.EAGAIN:
		return Busy
	case unix.EEXIST:
		return AlreadyExist
	case unix.ENODEV:
		return NoDevice
	case unix.ENOTDIR:
		return NotDirectory
	case unix.EISDIR:
		return IsDirectory
	case unix.EINVAL:
		return InvalidArgument
	case unix.ENFILE:
		return TooManySystemFiles
	case unix.EMFILE:
		return TooManyFiles
	case unix.EFBIG:
		return FileTooBig
	case unix.ENOSPC:
		return NoSpace
	case unix.ESPIPE:
		return InvalidSeek
	case unix.EROFS:
		return NotWriteable
	case unix.ENAMETOOLONG:
		return NameTooLong
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return Unsupported
	default:
		return Unknown
	}
}

// Retryable reports whether c is the Busy/EAGAIN condition the
// TraceBackend wrapper retries internally (spec §4.1 retry policy).
func (c Code) Retryable() bool {
	return c == Busy
}

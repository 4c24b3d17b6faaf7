package errcode

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestNewSuccessIsNil(t *testing.T) {
	if err := New(Success); err != nil {
		t.Fatalf("New(Success) = %v, want nil", err)
	}
}

func TestNewWraps(t *testing.T) {
	err := New(NotFound)
	if err == nil {
		t.Fatal("New(NotFound) = nil, want non-nil")
	}
	var c Code
	if !errors.As(err, &c) || c != NotFound {
		t.Fatalf("errors.As = %v, %v, want NotFound", c, err)
	}
}

func TestFromErrno(t *testing.T) {
	cases := []struct {
		in   error
		want Code
	}{
		{nil, Success},
		{unix.ESRCH, ProcessNotFound},
		{unix.EAGAIN, Busy},
		{unix.EBUSY, Busy},
		{unix.EFAULT, InvalidAddress},
		{unix.ENOSYS, Unsupported},
		{errors.New("not an errno"), Unknown},
	}
	for _, c := range cases {
		if got := FromErrno(c.in); got != c.want {
			t.Errorf("FromErrno(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Busy.Retryable() {
		t.Error("Busy should be retryable")
	}
	if NotFound.Retryable() {
		t.Error("NotFound should not be retryable")
	}
}

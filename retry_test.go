// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	opErr := func(errno syscall.Errno) error {
		return &url.Error{Op: "Post", URL: "http://localhost/admin", Err: &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: os.NewSyscallError("connect", errno),
		}}
	}
	for _, err := range []error{
		io.EOF,
		fmt.Errorf("read body: %w", io.ErrUnexpectedEOF),
		opErr(syscall.ECONNREFUSED),
		opErr(syscall.ECONNRESET),
		opErr(syscall.EPIPE),
	} {
		require.True(t, isRetryableError(err), "%v", err)
	}
	for _, err := range []error{
		nil,
		errors.New("connection refused by policy"),
		opErr(syscall.EACCES),
	} {
		require.False(t, isRetryableError(err), "%v", err)
	}
}

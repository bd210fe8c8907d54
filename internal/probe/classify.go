package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/hamed0406/netwatch/internal/domain"
)

// Classify maps a network or context error to an ErrorKind.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrNone
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.ErrTimeout
	}

	var de *net.DNSError
	if errors.As(err, &de) {
		switch {
		case de.IsNotFound:
			return domain.ErrDNSNotFound
		case de.IsTimeout:
			return domain.ErrTimeout
		default:
			return domain.ErrDNSFailure
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return domain.ErrConnRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.ErrConnReset
	}
	return domain.ErrNetwork
}

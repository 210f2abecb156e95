package transport

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
)

func TestMapQUICErrApplicationError(t *testing.T) {
	src := &quic.ApplicationError{
		ErrorCode:    quic.ApplicationErrorCode(GracefulCode),
		ErrorMessage: GracefulReason,
		Remote:       true,
	}

	err := mapQUICErr(fmt.Errorf("read: %w", src))

	var ce *CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CloseError, got %T: %v", err, err)
	}
	assert.Equal(t, GracefulCode, ce.Code)
	assert.Equal(t, GracefulReason, ce.Reason)
	assert.True(t, ce.Remote)
	assert.True(t, IsGracefulClose(err))
}

func TestMapQUICErrStreamError(t *testing.T) {
	err := mapQUICErr(&quic.StreamError{ErrorCode: 42})

	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StreamError, got %T: %v", err, err)
	}
	assert.Equal(t, uint64(42), se.Code)
}

func TestMapQUICErrPassesThroughPlainErrors(t *testing.T) {
	if got := mapQUICErr(nil); got != nil {
		t.Errorf("nil mapped to %v", got)
	}
	if got := mapQUICErr(io.EOF); got != io.EOF {
		t.Errorf("io.EOF mapped to %v", got)
	}
	plain := errors.New("network down")
	if got := mapQUICErr(plain); got != plain {
		t.Errorf("plain error mapped to %v", got)
	}
}

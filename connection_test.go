package mcdump

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/mcdump/internal/testutils"
	"github.com/pior/mcdump/protocol"
)

func TestConnection_Send(t *testing.T) {
	mock := testutils.NewConnectionMock()
	conn := NewConnection(mock, time.Second)

	require.NoError(t, conn.Send(context.Background(), []byte("get a b\r\n")))
	require.Equal(t, "get a b\r\n", mock.GetWrittenRequest())
	require.False(t, conn.Broken())
}

func TestConnection_Abandon(t *testing.T) {
	conn := NewConnection(testutils.NewConnectionMock(), time.Second)
	conn.Abandon()
	require.True(t, conn.Broken())
}

func TestConnection_FillReadsOnce(t *testing.T) {
	mock := testutils.NewConnectionMock("VALUE a 0 1\r\n", "x\r\nEND\r\n")
	conn := NewConnection(mock, time.Second)
	p := protocol.NewValueParser(make([]byte, 64))

	n, err := conn.Fill(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, 13, p.Pending())

	n, err = conn.Fill(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	v, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "x", string(v.Data))
	_, err = p.Next()
	require.ErrorIs(t, err, protocol.ErrEnd)
}

func TestConnection_FillWindowFull(t *testing.T) {
	mock := testutils.NewConnectionMock("abcd")
	conn := NewConnection(mock, time.Second)
	p := protocol.NewValueParser(make([]byte, 4))

	_, err := conn.Fill(context.Background(), p)
	require.NoError(t, err)

	_, err = conn.Fill(context.Background(), p)
	require.ErrorIs(t, err, protocol.ErrWindowFull)
	require.False(t, conn.Broken())
}

func TestConnection_FillEOF(t *testing.T) {
	conn := NewConnection(testutils.NewConnectionMock(), time.Second)
	p := protocol.NewListingParser(make([]byte, 16))

	_, err := conn.Fill(context.Background(), p)
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.True(t, conn.Broken())

	err = conn.Send(context.Background(), []byte("get a\r\n"))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_CanceledContext(t *testing.T) {
	conn := NewConnection(testutils.NewConnectionMock("END\r\n"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Fill(ctx, protocol.NewListingParser(make([]byte, 16)))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, conn.Send(ctx, []byte("x")), context.Canceled)
}

func TestConnection_Deadline(t *testing.T) {
	mock := testutils.NewConnectionMock("END\r\n", "END\r\n")
	conn := NewConnection(mock, time.Hour)
	p := protocol.NewListingParser(make([]byte, 16))

	_, err := conn.Fill(context.Background(), p)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), mock.ReadDeadline(), time.Minute)

	deadline := time.Now().Add(time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	_, err = conn.Fill(ctx, p)
	require.NoError(t, err)
	require.Equal(t, deadline, mock.ReadDeadline())
}

func TestConnection_CancelUnblocksRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection(client, 0)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := conn.Fill(ctx, protocol.NewListingParser(make([]byte, 16)))
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, conn.Broken())
}

func TestConnection_Close(t *testing.T) {
	mock := testutils.NewConnectionMock()
	conn := NewConnection(mock, 0)

	require.NoError(t, conn.Close())
	require.True(t, mock.Closed())
	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.Send(context.Background(), []byte("x")), ErrConnectionClosed)
}

package transport

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func TestListenAcceptRecvSend(t *testing.T) {
	listenFd, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer Close(listenFd)

	port, err := LocalPort(listenFd)
	if err != nil {
		t.Fatalf("LocalPort: %v", err)
	}

	dialErrCh := make(chan error, 1)
	var conn net.Conn
	go func() {
		c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		conn = c
		dialErrCh <- err
	}()

	var clientFd int
	for i := 0; i < 100; i++ {
		clientFd, err = Accept(listenFd)
		if err == nil {
			break
		}
		if err == ErrWouldBlock {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		t.Fatalf("Accept: %v", err)
	}
	defer Close(clientFd)

	if err := <-dialErrCh; err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}

	buf := make([]byte, 16)
	var n int
	for i := 0; i < 100; i++ {
		n, err = Recv(clientFd, buf)
		if err == nil {
			break
		}
		if err == ErrWouldBlock {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("expected ping, got %q", buf[:n])
	}

	if _, err := Send(clientFd, []byte("pong")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	rn, err := conn.Read(reply)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	if string(reply[:rn]) != "pong" {
		t.Fatalf("expected pong, got %q", reply[:rn])
	}
}

package comm_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/michaelwjones/rov/comm"
)

func pipeMaker() (comm.CreationFunc, *int) {
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		a, b := net.Pipe()
		go io.Copy(io.Discard, b) // swallow writes so the other end never blocks
		return a, nil
	}
	return maker, &made
}

func TestPoolHandsOutToCapacity(t *testing.T) {
	maker, made := pipeMaker()
	pool := comm.NewPool(3, maker)
	for i := 0; i < 3; i++ {
		if _, err := pool.Get(); err != nil {
			t.Fatalf("get %d failed: %v", i+1, err)
		}
	}
	if *made != 3 {
		t.Errorf("expected 3 connections made, got %d", *made)
	}
	if pool.Size() != 3 {
		t.Errorf("expected pool size 3, got %d", pool.Size())
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	maker, made := pipeMaker()
	pool := comm.NewPool(2, maker)
	for i := 0; i < 5; i++ {
		c, err := pool.Get()
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		pool.Put(c)
	}
	if *made != 1 {
		t.Errorf("expected a single reused connection, got %d dials", *made)
	}
}

func TestPoolDestroyCausesRedial(t *testing.T) {
	maker, made := pipeMaker()
	pool := comm.NewPool(1, maker)
	c, err := pool.Get()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	pool.ReturnWithError(c, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Fatalf("destroyed connection still counted, size %d", pool.Size())
	}
	if _, err := pool.Get(); err != nil {
		t.Fatalf("get after destroy failed: %v", err)
	}
	if *made != 2 {
		t.Errorf("expected a fresh dial after destroy, got %d dials", *made)
	}
}

func TestPoolBlocksWhenExhausted(t *testing.T) {
	maker, _ := pipeMaker()
	pool := comm.NewPool(1, maker)
	c, err := pool.Get()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	second := make(chan io.ReadWriteCloser, 1)
	go func() {
		c2, _ := pool.Get()
		second <- c2
	}()
	select {
	case <-second:
		t.Fatal("pool handed out more connections than its size")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(c)
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("blocked Get never woke after Put")
	}
}

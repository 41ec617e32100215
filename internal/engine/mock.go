package engine

import (
	"bytes"
	"errors"
	"sync"
)

// TestableSerialPort implements SerialPorter with scripted reads and
// captured writes, for tests that have no pulse engine attached.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuffer  *bytes.Buffer
	writeBuffer *bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool
	// CloseError is returned by Close if set
	CloseError error

	closed     bool
	writeCalls int
	readCond   *sync.Cond
}

// NewTestableSerialPort creates a port whose reads block until data is
// added with AddReadData or the port is closed.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{
		readBuffer:  bytes.NewBuffer(nil),
		writeBuffer: bytes.NewBuffer(nil),
	}
	t.readCond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.closed && t.readBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	return t.readBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writeCalls++
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		return t.writeBuffer.Write(p[:len(p)-1])
	}
	return t.writeBuffer.Write(p)
}

// Close marks the port closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData queues data for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readBuffer.Write(data)
	t.readCond.Signal()
}

// Written returns everything written so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuffer.String()
}

// WriteCalls returns the number of Write calls.
func (t *TestableSerialPort) WriteCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeCalls
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

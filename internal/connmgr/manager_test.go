package connmgr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func waitEvent(t *testing.T, m *Manager, typ EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func newTestManager(tcp, bt Connector) *Manager {
	return New(tcp, bt, WithLogger(discardLogger()), WithEventBuffer(64))
}

func TestManager(t *testing.T) {
	t.Run("InitialState", func(t *testing.T) {
		m := newTestManager(&fakeConnector{}, &fakeConnector{})
		defer m.Shutdown()
		assert.Equal(t, StateIdle, m.State())
	})

	t.Run("SelectsTCPForHosts", func(t *testing.T) {
		tcp, bt := &fakeConnector{}, &fakeConnector{}
		m := newTestManager(tcp, bt)
		defer m.Shutdown()

		m.Open(NewConfig("10.0.0.5"))
		ev := waitEvent(t, m, EventConnected)
		assert.Equal(t, KindTCP, ev.Kind)
		assert.Equal(t, []string{"10.0.0.5"}, tcp.Calls())
		assert.Empty(t, bt.Calls())
	})

	t.Run("SelectsBluetoothForSentinel", func(t *testing.T) {
		tcp, bt := &fakeConnector{}, &fakeConnector{}
		m := newTestManager(tcp, bt)
		defer m.Shutdown()

		m.Open(NewConfig(BluetoothSentinel))
		ev := waitEvent(t, m, EventConnected)
		assert.Equal(t, KindBluetooth, ev.Kind)
		assert.Equal(t, []string{BluetoothSentinel}, bt.Calls())
		assert.Empty(t, tcp.Calls())
	})

	t.Run("ConnectAndSend", func(t *testing.T) {
		tcp := &fakeConnector{}
		m := newTestManager(tcp, nil)
		defer m.Shutdown()

		m.Open(NewConfig("10.0.0.5"))
		waitEvent(t, m, EventConnected)
		require.Equal(t, StateConnected, m.State())

		m.Send("PLAY")
		h := tcp.Handle(0)
		assert.Equal(t, "PLAY\n", h.String())
		assert.Equal(t, 1, h.Writes())
	})

	t.Run("SendWhenIdleIsNoop", func(t *testing.T) {
		m := newTestManager(&fakeConnector{}, nil)
		defer m.Shutdown()

		done := make(chan struct{})
		go func() {
			m.Send("PLAY")
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Send blocked while idle")
		}
		assert.Equal(t, StateIdle, m.State())
	})

	t.Run("SendWhileConnectingIsDropped", func(t *testing.T) {
		tcp := &fakeConnector{gate: make(chan struct{}), started: make(chan string, 1)}
		m := newTestManager(tcp, nil)
		defer m.Shutdown()

		m.Open(NewConfig("10.0.0.5"))
		<-tcp.started
		assert.Equal(t, StateConnecting, m.State())
		m.Send("PLAY")

		close(tcp.gate)
		waitEvent(t, m, EventConnected)
		assert.Empty(t, tcp.Handle(0).String())
	})

	t.Run("OpenThenCloseLeavesNoHandle", func(t *testing.T) {
		tcp := &fakeConnector{gate: make(chan struct{}), started: make(chan string, 1)}
		m := newTestManager(tcp, nil)

		m.Open(NewConfig("10.0.0.5"))
		m.Close()
		<-tcp.started
		close(tcp.gate)
		m.Shutdown()

		assert.True(t, tcp.Handle(0).Closed())
		assert.Equal(t, StateIdle, m.State())
	})

	t.Run("SecondOpenSupersedesFirst", func(t *testing.T) {
		tcp := &fakeConnector{gate: make(chan struct{}), started: make(chan string, 2)}
		m := newTestManager(tcp, nil)
		defer m.Shutdown()

		m.Open(NewConfig("10.0.0.5"))
		<-tcp.started
		m.Open(NewConfig("10.0.0.6"))
		<-tcp.started

		close(tcp.gate)
		ev := waitEvent(t, m, EventConnected)
		assert.Equal(t, "10.0.0.6", ev.Identifier)
		m.wg.Wait()

		assert.True(t, tcp.Handle(0).Closed(), "superseded handle must be closed")
		assert.False(t, tcp.Handle(1).Closed())
		assert.Equal(t, StateConnected, m.State())

		m.Send("UP")
		assert.Empty(t, tcp.Handle(0).String())
		assert.Equal(t, "UP\n", tcp.Handle(1).String())
	})

	t.Run("OpenClosesLiveSession", func(t *testing.T) {
		tcp := &fakeConnector{}
		m := newTestManager(tcp, nil)
		defer m.Shutdown()

		m.Open(NewConfig("10.0.0.5"))
		waitEvent(t, m, EventConnected)
		m.Open(NewConfig("10.0.0.6"))
		assert.True(t, tcp.Handle(0).Closed())
		waitEvent(t, m, EventConnected)
		assert.False(t, tcp.Handle(1).Closed())
	})

	t.Run("ConnectFailureReturnsToIdle", func(t *testing.T) {
		tcp := &fakeConnector{err: ErrHostUnresolvable}
		m := newTestManager(tcp, nil)
		defer m.Shutdown()

		m.Open(NewConfig("nowhere"))
		ev := waitEvent(t, m, EventConnectFailed)
		assert.ErrorIs(t, ev.Err, ErrHostUnresolvable)
		assert.NotEmpty(t, ev.Attempt)
		assert.Equal(t, StateIdle, m.State())
	})

	t.Run("MissingConnector", func(t *testing.T) {
		m := newTestManager(&fakeConnector{}, nil)
		defer m.Shutdown()

		m.Open(NewConfig(BluetoothSentinel))
		ev := waitEvent(t, m, EventConnectFailed)
		assert.ErrorIs(t, ev.Err, ErrConnection)
		assert.Equal(t, StateIdle, m.State())
	})

	t.Run("ChannelUnavailable", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		bt := &BluetoothConnector{
			Adapter:      &fakeAdapter{},
			Opener:       &fakeOpener{nilOK: true},
			PollInterval: time.Millisecond,
			Logger:       discardLogger(),
		}
		m := New(nil, bt, WithLogger(zap.New(core)), WithEventBuffer(64))
		defer m.Shutdown()

		m.Open(NewConfig(BluetoothSentinel))
		ev := waitEvent(t, m, EventConnectFailed)
		assert.ErrorIs(t, ev.Err, ErrChannelUnavailable)
		assert.Equal(t, StateIdle, m.State())

		failed := logs.FilterMessage("connect failed").All()
		require.Len(t, failed, 1)
		assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
		assert.Equal(t, BluetoothSentinel, failed[0].ContextMap()["identifier"])
	})

	t.Run("CloseCancelsDiscoveryWait", func(t *testing.T) {
		adapter := &fakeAdapter{scanningPolls: 1 << 30}
		opener := &fakeOpener{channel: &fakeChannel{}}
		bt := &BluetoothConnector{
			Adapter:          adapter,
			Opener:           opener,
			PollInterval:     time.Millisecond,
			DiscoveryTimeout: -1,
			Logger:           discardLogger(),
		}
		m := newTestManager(nil, bt)

		m.Open(NewConfig(BluetoothSentinel))
		require.Eventually(t, func() bool {
			adapter.mu.Lock()
			defer adapter.mu.Unlock()
			return adapter.polls > 1
		}, 5*time.Second, time.Millisecond)
		m.Close()

		done := make(chan struct{})
		go func() {
			m.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Shutdown blocked on a discovery wait that Close should have cancelled")
		}
		assert.Zero(t, opener.calls)
		assert.Equal(t, StateIdle, m.State())
		for len(m.Events()) > 0 {
			assert.NotEqual(t, EventConnectFailed, (<-m.Events()).Type)
		}
	})

	t.Run("NewerOpenCancelsDiscoveryWait", func(t *testing.T) {
		adapter := &fakeAdapter{scanningPolls: 1 << 30}
		opener := &fakeOpener{channel: &fakeChannel{}}
		bt := &BluetoothConnector{
			Adapter:          adapter,
			Opener:           opener,
			PollInterval:     time.Millisecond,
			DiscoveryTimeout: -1,
			Logger:           discardLogger(),
		}
		tcp := &fakeConnector{}
		m := newTestManager(tcp, bt)

		m.Open(NewConfig(BluetoothSentinel))
		require.Eventually(t, func() bool {
			adapter.mu.Lock()
			defer adapter.mu.Unlock()
			return adapter.polls > 1
		}, 5*time.Second, time.Millisecond)
		m.Open(NewConfig("10.0.0.5"))
		ev := waitEvent(t, m, EventConnected)
		assert.Equal(t, KindTCP, ev.Kind)

		done := make(chan struct{})
		go func() {
			m.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("superseded discovery wait kept running")
		}
		assert.Zero(t, opener.calls)
	})

	t.Run("SendFailureClosesSession", func(t *testing.T) {
		tcp := &fakeConnector{}
		m := newTestManager(tcp, nil)
		defer m.Shutdown()

		m.Open(NewConfig("10.0.0.5"))
		waitEvent(t, m, EventConnected)
		h := tcp.Handle(0)
		h.mu.Lock()
		h.writeErr = errors.New("broken pipe")
		h.mu.Unlock()

		m.Send("PLAY")
		ev := waitEvent(t, m, EventSendFailed)
		assert.ErrorIs(t, ev.Err, ErrSend)
		assert.Equal(t, "PLAY", ev.Command)
		assert.Equal(t, StateIdle, m.State())
		assert.True(t, h.Closed())

		m.Send("PLAY")
	})

	t.Run("CloseUnblocksStalledSend", func(t *testing.T) {
		pc := &pipeConnector{}
		defer pc.Close()
		m := newTestManager(pc, nil)

		m.Open(NewConfig("10.0.0.5"))
		waitEvent(t, m, EventConnected)

		sent := make(chan struct{})
		go func() {
			m.Send("PLAY")
			close(sent)
		}()
		// The peer never reads, so Send is stuck in the write.
		time.Sleep(50 * time.Millisecond)

		state := make(chan State, 1)
		go func() { state <- m.State() }()
		select {
		case <-state:
		case <-time.After(time.Second):
			t.Fatal("State blocked behind a stalled Send")
		}

		closed := make(chan struct{})
		go func() {
			m.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("Close blocked behind a stalled Send")
		}
		assert.Equal(t, StateIdle, m.State())

		select {
		case <-sent:
		case <-time.After(2 * time.Second):
			t.Fatal("Send did not return after Close")
		}
		m.Shutdown()

		// A write cut short by Close is not reported as a send failure.
		for len(m.Events()) > 0 {
			assert.NotEqual(t, EventSendFailed, (<-m.Events()).Type)
		}
	})

	t.Run("OpenUnblocksStalledSend", func(t *testing.T) {
		pc := &pipeConnector{}
		defer pc.Close()
		m := newTestManager(pc, nil)
		defer m.Shutdown()

		m.Open(NewConfig("10.0.0.5"))
		waitEvent(t, m, EventConnected)

		sent := make(chan struct{})
		go func() {
			m.Send("PLAY")
			close(sent)
		}()
		time.Sleep(50 * time.Millisecond)

		opened := make(chan struct{})
		go func() {
			m.Open(NewConfig("10.0.0.6"))
			close(opened)
		}()
		select {
		case <-opened:
		case <-time.After(2 * time.Second):
			t.Fatal("Open blocked behind a stalled Send")
		}
		select {
		case <-sent:
		case <-time.After(2 * time.Second):
			t.Fatal("Send did not return after Open")
		}
		ev := waitEvent(t, m, EventConnected)
		assert.Equal(t, "10.0.0.6", ev.Identifier)
	})

	t.Run("CloseWhenIdle", func(t *testing.T) {
		m := newTestManager(nil, nil)
		m.Close()
		m.Close()
		m.Shutdown()
		assert.Equal(t, StateIdle, m.State())
	})

	t.Run("CloseAfterConnect", func(t *testing.T) {
		tcp := &fakeConnector{}
		m := newTestManager(tcp, nil)

		m.Open(NewConfig("10.0.0.5"))
		waitEvent(t, m, EventConnected)
		m.Close()
		waitEvent(t, m, EventClosed)
		m.Shutdown()

		assert.True(t, tcp.Handle(0).Closed())
		assert.Equal(t, StateIdle, m.State())
	})
}

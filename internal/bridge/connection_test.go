package bridge

import (
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tonkeeper/wsbridge/internal/location"
	"github.com/tonkeeper/wsbridge/internal/models"
)

func TestConnection_EnqueueSend(t *testing.T) {
	s := newFakeSocket("localhost", "/")
	conn := newConnection("a", location.Location{}, s, 1)

	if !conn.enqueueSend("1") {
		t.Fatal("first payload should be queued")
	}
	if conn.enqueueSend("2") {
		t.Fatal("payload should be dropped when the outbox is full")
	}

	close(conn.done)
	<-conn.outbox
	if conn.enqueueSend("3") {
		t.Fatal("payload should be dropped after teardown")
	}
}

func TestConnection_EnqueueCloseWithFullOutbox(t *testing.T) {
	s := newFakeSocket("localhost", "/")
	conn := newConnection("a", location.Location{}, s, 1)

	conn.enqueueSend("1")
	conn.enqueueClose()
	if !s.isClosed() {
		t.Error("socket should be closed directly when the outbox is full")
	}
}

func TestConnection_WriteLoop(t *testing.T) {
	s := newFakeSocket("localhost", "/")
	conn := newConnection("a", location.Location{}, s, 10)
	stopped := make(chan struct{})
	go func() {
		conn.writeLoop()
		close(stopped)
	}()

	conn.enqueueSend("1")
	conn.enqueueSend("2")
	conn.enqueueClose()
	// writes after close fail and are discarded
	conn.enqueueSend("3")

	eventually(t, s.isClosed)
	time.Sleep(20 * time.Millisecond)
	if got := s.Written(); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("written = %v, want [1 2]", got)
	}

	close(conn.done)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("writeLoop did not stop after done")
	}
}

func TestBridge_DroppedSendIsNotRouted(t *testing.T) {
	tb := startBridge(t)
	conn := newConnection("slow", location.Location{}, newFakeSocket("localhost", "/"), 1)
	if err := tb.registry.Add(conn); err != nil {
		t.Fatal(err)
	}
	defer tb.registry.Remove(conn.ID)

	routed := routedCommandsMetric.WithLabelValues(string(models.CommandSend))
	routedBefore := testutil.ToFloat64(routed)
	droppedBefore := testutil.ToFloat64(droppedSendsMetric)

	verbose := newVerboseLog(false)
	tb.route(models.Send(conn.ID, "1"), verbose)
	tb.route(models.Send(conn.ID, "2"), verbose)

	if got := testutil.ToFloat64(routed) - routedBefore; got != 1 {
		t.Errorf("routed sends = %v, want 1", got)
	}
	if got := testutil.ToFloat64(droppedSendsMetric) - droppedBefore; got != 1 {
		t.Errorf("dropped sends = %v, want 1", got)
	}
}

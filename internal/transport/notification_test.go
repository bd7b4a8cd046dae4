package transport

import "testing"

func TestChanReporterDelivers(t *testing.T) {
	ch := make(chan Notification, 1)
	rep := NewChanReporter(ch)
	rep.Report(Notification{Type: NotifyProgress, GID: "g1", Delta: 42})
	n := <-ch
	if n.Type != NotifyProgress || n.GID != "g1" || n.Delta != 42 {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestChanReporterNilReceiver(t *testing.T) {
	var rep *ChanReporter
	// Must not panic.
	rep.Report(Notification{Type: NotifyDone})
}

package session

// Metrics receives session-level counters. monitoring.Metrics implements it.
type Metrics interface {
	RecordCapture(context, kind string, captured bool)
	RecordDuplicate(kind string)
	RecordBridgeMessage(msgType, outcome string)
	RecordFrameBuild()
	RecordTagStatus(status string)
	SetActiveSessions(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordCapture(string, string, bool) {}
func (nopMetrics) RecordDuplicate(string)             {}
func (nopMetrics) RecordBridgeMessage(string, string) {}
func (nopMetrics) RecordFrameBuild()                  {}
func (nopMetrics) RecordTagStatus(string)             {}
func (nopMetrics) SetActiveSessions(int)              {}

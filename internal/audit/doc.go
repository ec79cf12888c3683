// Package audit defines the structured events the admission engine emits
// and the sinks that store them.
//
// The engine emits one event per decision, one per access list or block
// mutation, one per alert and one per internal fault. It only knows the
// Sink interface; where events end up is the binary's choice:
//
//	sink, err := audit.NewWriterSink(audit.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
// RedisSink mirrors events into a capped Redis stream, LoggerSink forwards
// them to a zap backed logger and MultiSink fans out to several sinks.
package audit

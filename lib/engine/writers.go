package engine

import (
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// Response is the answer to a client waiting for a command.
type Response struct {
	RequestStreamID int32
	RequestID       int64

	// Record is the follow-up event or the rejection of the command.
	Record *protocol.Record
}

// Result is everything the processing of one command produced. Records are
// appended as one batch, the response and the side effects only take place
// once that batch is committed and applied.
type Result struct {
	Records     []*protocol.Record
	Response    *Response
	SideEffects []func()
}

// IsRejection reports whether the command was rejected.
func (r *Result) IsRejection() bool {
	return len(r.Records) == 1 && r.Records[0].IsRejection()
}

// Writers collects the output of a processor for one command.
type Writers struct {
	command *protocol.Record
	result  *Result
}

func newWriters(command *protocol.Record) *Writers {
	return &Writers{command: command, result: &Result{}}
}

// AppendFollowUpEvent appends an event caused by the command and returns it.
func (w *Writers) AppendFollowUpEvent(key int64, valueType protocol.ValueType, intent protocol.Intent, value interface{}) (*protocol.Record, error) {
	buf, err := protocol.EncodeValue(value)
	if err != nil {
		return nil, err
	}
	event := &protocol.Record{
		Key: key,
		Metadata: protocol.RecordMetadata{
			RecordType: protocol.RecordTEvent,
			ValueType:  valueType,
			Intent:     intent,
		},
		Value: buf,
	}
	w.result.Records = append(w.result.Records, event)
	return event, nil
}

// AppendRejection appends a rejection of the command.
func (w *Writers) AppendRejection(rejection *protocol.Rejection) *protocol.Record {
	metadata := w.command.Metadata
	metadata.RecordType = protocol.RecordTCommandRejection
	metadata.RejectionType = rejection.Type
	metadata.RejectionReason = rejection.Reason

	record := &protocol.Record{
		Key:      w.command.Key,
		Metadata: metadata,
		Value:    w.command.Value,
	}
	w.result.Records = append(w.result.Records, record)
	return record
}

// WriteEventOnCommand answers the client of the command with the event.
func (w *Writers) WriteEventOnCommand(event *protocol.Record) {
	w.respond(event)
}

// WriteRejectionOnCommand answers the client of the command with the rejection.
func (w *Writers) WriteRejectionOnCommand(rejection *protocol.Record) {
	w.respond(rejection)
}

func (w *Writers) respond(record *protocol.Record) {
	if !w.command.Metadata.HasRequest() {
		return
	}
	w.result.Response = &Response{
		RequestStreamID: w.command.Metadata.RequestStreamID,
		RequestID:       w.command.Metadata.RequestID,
		Record:          record,
	}
}

// AppendSideEffect registers fn to run after the records were committed and applied.
func (w *Writers) AppendSideEffect(fn func()) {
	w.result.SideEffects = append(w.result.SideEffects, fn)
}

// reset drops everything written so far.
func (w *Writers) reset() {
	w.result = &Result{}
}

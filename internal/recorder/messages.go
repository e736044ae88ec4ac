package recorder

import (
	"time"

	"github.com/roasbeef/outreach/internal/actor"
	"github.com/roasbeef/outreach/internal/domain"
)

// Request is the sealed set of messages the recorder actor accepts.
type Request interface {
	actor.Message
	isRecorderRequest()
}

// Response is the reply to a Request. Only the fields relevant to the
// request are set.
type Response struct {
	// Inserted is false when Begin saw a dispatch id it already had.
	Inserted bool

	// Summary answers a SummaryRequest.
	Summary Summary
}

// BeginRequest stores an unfinished record before dispatch.
type BeginRequest struct {
	actor.BaseMessage

	Record domain.OutreachRecord
}

// MessageType returns the message type name.
func (BeginRequest) MessageType() string { return "BeginRequest" }

// FinishRequest stamps the outcome of a record.
type FinishRequest struct {
	actor.BaseMessage

	Record domain.OutreachRecord
}

// MessageType returns the message type name.
func (FinishRequest) MessageType() string { return "FinishRequest" }

// FlushRequest completes once every earlier message has been applied. It
// reports the first write failure since the previous flush.
type FlushRequest struct {
	actor.BaseMessage
}

// MessageType returns the message type name.
func (FlushRequest) MessageType() string { return "FlushRequest" }

// SummaryRequest asks for a summary of records started in [From, To).
type SummaryRequest struct {
	actor.BaseMessage

	From time.Time
	To   time.Time
}

// MessageType returns the message type name.
func (SummaryRequest) MessageType() string { return "SummaryRequest" }

func (BeginRequest) isRecorderRequest()   {}
func (FinishRequest) isRecorderRequest()  {}
func (FlushRequest) isRecorderRequest()   {}
func (SummaryRequest) isRecorderRequest() {}

package notification

import (
	"context"
	"fmt"
)

// ChannelResult is what an adapter reports for one recipient. The dispatcher stamps
// timestamps and turns it into a ChannelAttempt.
type ChannelResult struct {
	Status AttemptStatus
	Error  string
	Detail string
}

func sent(detail string) ChannelResult {
	return ChannelResult{Status: StatusSent, Detail: detail}
}

func failed(format string, args ...interface{}) ChannelResult {
	return ChannelResult{Status: StatusFailed, Error: fmt.Sprintf(format, args...)}
}

// ChannelAdapter is implemented by exactly one variant per Channel. Attempt never
// returns an error: every failure is reported as a FAILED result.
type ChannelAdapter interface {
	Channel() Channel
	Attempt(ctx context.Context, r Recipient, p Payload) ChannelResult
}

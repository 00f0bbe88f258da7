package transport

import "fmt"

// Result is a message delivery outcome. Values match the device SDK's
// AppMessageResult bit flags so they can cross the wire unchanged.
type Result uint16

const (
	ResultOK                        Result = 0
	ResultSendTimeout               Result = 1 << 1
	ResultSendRejected              Result = 1 << 2
	ResultNotConnected              Result = 1 << 3
	ResultAppNotRunning             Result = 1 << 4
	ResultInvalidArgs               Result = 1 << 5
	ResultBusy                      Result = 1 << 6
	ResultBufferOverflow            Result = 1 << 7
	ResultAlreadyReleased           Result = 1 << 9
	ResultCallbackAlreadyRegistered Result = 1 << 10
	ResultCallbackNotRegistered     Result = 1 << 11
	ResultOutOfMemory               Result = 1 << 12
	ResultClosed                    Result = 1 << 13
	ResultInternalError             Result = 1 << 14
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "APP_MSG_OK"
	case ResultSendTimeout:
		return "APP_MSG_SEND_TIMEOUT"
	case ResultSendRejected:
		return "APP_MSG_SEND_REJECTED"
	case ResultNotConnected:
		return "APP_MSG_NOT_CONNECTED"
	case ResultAppNotRunning:
		return "APP_MSG_APP_NOT_RUNNING"
	case ResultInvalidArgs:
		return "APP_MSG_INVALID_ARGS"
	case ResultBusy:
		return "APP_MSG_BUSY"
	case ResultBufferOverflow:
		return "APP_MSG_BUFFER_OVERFLOW"
	case ResultAlreadyReleased:
		return "APP_MSG_ALREADY_RELEASED"
	case ResultCallbackAlreadyRegistered:
		return "APP_MSG_CALLBACK_ALREADY_REGISTERED"
	case ResultCallbackNotRegistered:
		return "APP_MSG_CALLBACK_NOT_REGISTERED"
	case ResultOutOfMemory:
		return "APP_MSG_OUT_OF_MEMORY"
	case ResultClosed:
		return "APP_MSG_CLOSED"
	case ResultInternalError:
		return "APP_MSG_INTERNAL_ERROR"
	default:
		return "UNKNOWN ERROR"
	}
}

// ResultError reports a failed send of transaction Txn.
type ResultError struct {
	Txn    uint32
	Result Result
	Err    error
}

func (e *ResultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: txn=%d: %s: %v", e.Txn, e.Result, e.Err)
	}
	return fmt.Sprintf("transport: txn=%d: %s", e.Txn, e.Result)
}

func (e *ResultError) Unwrap() error {
	return e.Err
}

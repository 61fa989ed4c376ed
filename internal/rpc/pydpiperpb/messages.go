// Package pydpiperpb declares the wire contract between the scheduler
// server (C4 server side) and executor agents (C4 client side): request
// and reply message structs, the SchedulerService client/server
// interfaces, and a hand-authored grpc.ServiceDesc that lets them ride
// real google.golang.org/grpc transport without a protoc-generated
// .pb.go file. Messages are marshaled by internal/rpc/rpccodec's JSON
// codec rather than protobuf wire format.
package pydpiperpb

// RegisterExecutorRequest is sent once, when an executor comes online.
type RegisterExecutorRequest struct {
	TotalMemoryGB float64 `json:"total_memory_gb"`
	Cores         int     `json:"cores"`
}

// RegisterExecutorReply carries the opaque executor ID the server assigns.
type RegisterExecutorReply struct {
	ExecutorID string `json:"executor_id"`
}

// RequestWorkRequest reports an executor's current free resources.
type RequestWorkRequest struct {
	ExecutorID   string  `json:"executor_id"`
	FreeMemoryGB float64 `json:"free_memory_gb"`
	FreeCores    int     `json:"free_cores"`
}

// StageAssignment is the payload of a dispatched stage.
type StageAssignment struct {
	StageID   string            `json:"stage_id"`
	Command   []string          `json:"command"`
	Inputs    []string          `json:"inputs"`
	Outputs   []string          `json:"outputs"`
	MemoryGB  float64           `json:"memory_gb"`
	Params    map[string]string `json:"params,omitempty"`
}

// RequestWorkReply is one of NONE, STAGE (Stage populated), or SHUTDOWN.
type RequestWorkReply struct {
	Action string           `json:"action"`
	Stage  *StageAssignment `json:"stage,omitempty"`
}

// Action string constants for RequestWorkReply.Action.
const (
	ActionNone     = "NONE"
	ActionStage    = "STAGE"
	ActionShutdown = "SHUTDOWN"
)

// ReportFinishedRequest reports a stage's successful completion.
type ReportFinishedRequest struct {
	ExecutorID string `json:"executor_id"`
	StageID    string `json:"stage_id"`
}

// ReportFinishedReply is empty; success is the absence of an RPC error.
type ReportFinishedReply struct{}

// ReportFailedRequest reports a stage's failed completion.
type ReportFailedRequest struct {
	ExecutorID string `json:"executor_id"`
	StageID    string `json:"stage_id"`
	Reason     string `json:"reason"`
}

// ReportFailedReply is empty; success is the absence of an RPC error.
type ReportFailedReply struct{}

// HeartbeatRequest carries an executor's liveness ping and resident
// memory for scheduler bookkeeping.
type HeartbeatRequest struct {
	ExecutorID     string  `json:"executor_id"`
	ResidentMemory float64 `json:"resident_memory_gb"`
}

// HeartbeatReply is empty; success is the absence of an RPC error.
type HeartbeatReply struct{}

// QueryStatusRequest has no fields; it exists so the RPC has a concrete
// request type to marshal.
type QueryStatusRequest struct{}

// QueryStatusReply mirrors scheduler.Status over the wire.
type QueryStatusReply struct {
	Total     int    `json:"total"`
	Finished  int    `json:"finished"`
	Failed    int    `json:"failed"`
	Running   int    `json:"running"`
	Runnable  int    `json:"runnable"`
	Executors int    `json:"executors"`
	Draining  bool   `json:"draining"`
	Fatal     string `json:"fatal,omitempty"`
}
